package vault

import (
	"io"
	"log/slog"
	"time"
)

const (
	DefaultIterations = 390000
	DerivedKeyLen     = 32
	SaltLen           = 16

	// TimestampLayout is how entry timestamps are rendered before encryption.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Token is one encrypted field in its encoded, self-contained form.
type Token string

// KDFParams configures DeriveKey.
type KDFParams struct {
	Iterations int
}

func DefaultKDFParams() KDFParams { return KDFParams{Iterations: DefaultIterations} }

func (p KDFParams) iterations() int {
	if p.Iterations <= 0 {
		return DefaultIterations
	}
	return p.Iterations
}

// Preference is the persisted record used to verify a master secret.
// Salt holds the URL-safe base64 text as stored; its UTF-8 bytes salt
// every derivation. Iterations of zero means DefaultIterations.
type Preference struct {
	Salt       string
	Hash       []byte
	Iterations int
}

// KDF returns the derivation parameters the record was created with.
func (p Preference) KDF() KDFParams { return KDFParams{Iterations: p.Iterations} }

func (p Preference) saltBytes() []byte { return []byte(p.Salt) }

// Credential is a decrypted entry returned by GetCredential.
type Credential struct {
	Platform  string
	Username  string
	Password  string
	Timestamp string
}

// PlatformMatch groups the usernames found under one platform by SearchUsernames.
type PlatformMatch struct {
	Platform  string
	Usernames []string
}

// Clock is the time source used for token and entry timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Options configures Open and Initialize.
type Options struct {
	Persister *Persister
	KDF       KDFParams
	Backup    BackupKDF
	Scheme    ContextScheme
	Clock     Clock
	Rand      io.Reader
	Logger    *slog.Logger
}
