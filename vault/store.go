package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var discardLogger = slog.New(slog.DiscardHandler)

// GateState is the state of the access gate.
type GateState uint8

const (
	Locked GateState = iota
	Unlocked
)

func (s GateState) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Gate checks master secrets against the preference record. It starts
// Locked and drops back to Locked at the start of every check, so a
// secret accepted once is never trusted by a later call.
type Gate struct {
	state GateState
	pref  Preference
}

func (g *Gate) State() GateState { return g.state }

// Check recomputes the verification hash for secret and opens the gate
// on an exact match.
func (g *Gate) Check(secret string) bool {
	g.state = Locked
	if len(g.pref.Salt) == 0 || len(g.pref.Hash) == 0 {
		return false
	}
	h := DeriveVerificationHash(secret, g.pref.saltBytes(), g.pref.KDF())
	if subtle.ConstantTimeCompare(h, g.pref.Hash) != 1 {
		return false
	}
	g.state = Unlocked
	return true
}

// Store is the in-memory credential database plus everything needed to
// search and mutate it. Every mutation is followed by a full dump through
// the Persister. If a dump fails the mutation stays in memory and the
// error is returned; the file then lags behind until the next good dump.
//
// A Store is not safe for concurrent use.
type Store struct {
	db        *Database
	pref      Preference
	persister *Persister
	cipher    *Cipher
	scheme    ContextScheme
	backupKDF BackupKDF
	rand      io.Reader
	gate      Gate
	logger    *slog.Logger
}

// Open loads the preference record and the database. It returns
// ErrPreferenceMissing on first run; call Initialize then.
func Open(opts Options) (*Store, error) {
	if opts.Persister == nil {
		return nil, opError("open", KindInvalidInput, errors.New("no persister configured"))
	}
	pref, err := opts.Persister.LoadPreference()
	if err != nil {
		return nil, err
	}
	if opts.KDF.Iterations > 0 && opts.KDF.iterations() != pref.KDF().iterations() && opts.Logger != nil {
		opts.Logger.Warn("configured kdf iterations ignored, preference record has its own",
			"configured", opts.KDF.iterations(), "record", pref.KDF().iterations())
	}
	db, err := opts.Persister.LoadDatabase()
	if err != nil {
		return nil, err
	}
	return New(db, pref, opts), nil
}

// Initialize creates the preference record from a newly chosen secret,
// then loads (or creates) the database.
func Initialize(opts Options, secret, confirm string) (*Store, error) {
	if opts.Persister == nil {
		return nil, opError("initialize", KindInvalidInput, errors.New("no persister configured"))
	}
	if opts.Persister.Storage.Exists(opts.Persister.PreferencePath) {
		return nil, opError("initialize", KindInvalidInput, errors.New("preference record already exists"))
	}
	pref, err := CreatePreference(secret, confirm, opts.Rand, opts.KDF)
	if err != nil {
		return nil, err
	}
	if err := opts.Persister.SavePreference(pref); err != nil {
		return nil, err
	}
	if pref.Iterations < DefaultIterations && opts.Logger != nil {
		opts.Logger.Warn("preference record created with reduced kdf iterations",
			"iterations", pref.Iterations, "default", DefaultIterations)
	}
	db, err := opts.Persister.LoadDatabase()
	if err != nil {
		return nil, err
	}
	return New(db, pref, opts), nil
}

// CreatePreference derives a fresh preference record for secret. The
// iteration count is recorded so later opens derive with the same one.
func CreatePreference(secret, confirm string, r io.Reader, params KDFParams) (Preference, error) {
	if secret == "" {
		return Preference{}, opError("create preference", KindInvalidInput, errors.New("master secret must not be empty"))
	}
	if secret != confirm {
		return Preference{}, ErrSecretMismatch
	}
	raw, err := RandomSalt(r)
	if err != nil {
		return Preference{}, opError("create preference", KindIO, err)
	}
	salt := base64.URLEncoding.EncodeToString(raw)
	return Preference{
		Salt:       salt,
		Hash:       DeriveVerificationHash(secret, []byte(salt), params),
		Iterations: params.iterations(),
	}, nil
}

// New wraps an already loaded database. A nil Persister keeps everything
// in memory. Keys are derived with the iteration count from pref;
// opts.KDF only applies to records made by Initialize.
func New(db *Database, pref Preference, opts Options) *Store {
	if db == nil {
		db = NewDatabase()
	}
	if opts.Persister == nil {
		opts.Persister = &Persister{Storage: NewMemoryStorage(), DatabasePath: "database.json", PreferencePath: "preference.json"}
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Backup.Time == 0 {
		opts.Backup = DefaultBackupKDF()
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger
	}
	if opts.Persister.Logger == nil {
		opts.Persister.Logger = logger
	}
	return &Store{
		db:        db,
		pref:      pref,
		persister: opts.Persister,
		cipher:    NewCipher(pref.saltBytes(), pref.KDF(), opts.Clock, opts.Rand),
		scheme:    opts.Scheme,
		backupKDF: opts.Backup,
		rand:      opts.Rand,
		gate:      Gate{pref: pref},
		logger:    logger.With("component", "vault"),
	}
}

// GateState reports the gate state left by the last operation.
func (s *Store) GateState() GateState { return s.gate.State() }

// Scheme returns the context scheme the store was opened with.
func (s *Store) Scheme() ContextScheme { return s.scheme }

// CheckPassword reports whether secret matches the preference record.
func (s *Store) CheckPassword(secret string) bool {
	return s.gate.Check(secret)
}

// Dump writes the whole database through the persister.
func (s *Store) Dump() error {
	return s.persist("dump")
}

func (s *Store) persist(op string) error {
	if err := s.persister.SaveDatabase(s.db); err != nil {
		s.logger.Warn("dump failed, file no longer matches memory", "op", op, "kind", KindOf(err).String())
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("dumped database", "op", op, "platforms", s.db.Len(), "entries", s.db.Count())
	return nil
}

// unlock runs the gate and returns a Cipher whose derived keys live only
// as long as the calling operation.
func (s *Store) unlock(op, secret string) (*Cipher, error) {
	if !s.CheckPassword(secret) {
		s.logger.Debug("gate rejected secret", "op", op)
		return nil, fmt.Errorf("%s: %w", op, ErrWrongSecret)
	}
	return s.cipher.scoped(), nil
}
