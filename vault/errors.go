package vault

import (
	"errors"
	"fmt"
)

// Kind classifies a vault failure so callers can report it precisely.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindMalformedToken
	KindDuplicateEntry
	KindPlatformNotFound
	KindUsernameNotFound
	KindSamePassword
	KindIO
	KindMalformedData
	KindPreferenceMissing
	KindSecretMismatch
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindAuthentication:    "authentication failure",
	KindMalformedToken:    "malformed token",
	KindDuplicateEntry:    "duplicate entry",
	KindPlatformNotFound:  "platform not found",
	KindUsernameNotFound:  "username not found",
	KindSamePassword:      "same password",
	KindIO:                "i/o failure",
	KindMalformedData:     "malformed persisted data",
	KindPreferenceMissing: "preference missing",
	KindSecretMismatch:    "secret mismatch",
	KindInvalidInput:      "invalid input",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the error type returned by vault operations.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := "vault: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind, so
// errors.Is(err, ErrDuplicateEntry) works for any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrAuthFailed        = &Error{Kind: KindAuthentication}
	ErrMalformedToken    = &Error{Kind: KindMalformedToken}
	ErrDuplicateEntry    = &Error{Kind: KindDuplicateEntry}
	ErrPlatformNotFound  = &Error{Kind: KindPlatformNotFound}
	ErrUsernameNotFound  = &Error{Kind: KindUsernameNotFound}
	ErrSamePassword      = &Error{Kind: KindSamePassword}
	ErrIO                = &Error{Kind: KindIO}
	ErrCorrupt           = &Error{Kind: KindMalformedData}
	ErrPreferenceMissing = &Error{Kind: KindPreferenceMissing}
	ErrSecretMismatch    = &Error{Kind: KindSecretMismatch}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}

	// ErrWrongSecret is returned when the access gate rejects a master secret.
	ErrWrongSecret = &Error{Kind: KindAuthentication, Err: errors.New("wrong master secret")}
)

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func opError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}
