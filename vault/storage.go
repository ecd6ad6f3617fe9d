package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Storage is the byte-level durable store the vault persists through.
type Storage interface {
	ReadAll(path string) ([]byte, error)
	WriteAll(path string, data []byte) error
	Exists(path string) bool
}

// FileStorage keeps files on the local filesystem. Writes replace the
// target atomically through a temp file and rename.
type FileStorage struct {
	Perm os.FileMode
}

func (FileStorage) ReadAll(path string) ([]byte, error) { return os.ReadFile(path) }

func (FileStorage) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s FileStorage) WriteAll(path string, data []byte) error {
	perm := s.Perm
	if perm == 0 {
		perm = 0600
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return atomicWriteFile(path, data, perm)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// MemoryStorage is an in-process Storage, mostly for tests.
type MemoryStorage struct {
	mu    sync.Mutex
	files map[string][]byte
	// FailWrites makes every WriteAll fail when set.
	FailWrites error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: make(map[string][]byte)}
}

func (m *MemoryStorage) ReadAll(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStorage) WriteAll(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Persister reads and writes the database and preference files.
type Persister struct {
	Storage        Storage
	DatabasePath   string
	PreferencePath string
	Logger         *slog.Logger
}

// NewFilePersister stores both files under dir.
func NewFilePersister(dir, databaseFile, preferenceFile string) *Persister {
	return &Persister{
		Storage:        FileStorage{Perm: 0600},
		DatabasePath:   filepath.Join(dir, databaseFile),
		PreferencePath: filepath.Join(dir, preferenceFile),
	}
}

func (p *Persister) logger() *slog.Logger {
	if p.Logger == nil {
		return discardLogger
	}
	return p.Logger
}

// LoadDatabase reads the database file. A missing file is created empty.
func (p *Persister) LoadDatabase() (*Database, error) {
	if !p.Storage.Exists(p.DatabasePath) {
		db := NewDatabase()
		if err := p.SaveDatabase(db); err != nil {
			return nil, err
		}
		p.logger().Info("created empty database", "path", p.DatabasePath)
		return db, nil
	}
	data, err := p.Storage.ReadAll(p.DatabasePath)
	if err != nil {
		return nil, opError("load database", KindIO, err)
	}
	db := NewDatabase()
	if len(data) == 0 {
		return db, nil
	}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, opError("load database", KindMalformedData, err)
	}
	p.logger().Debug("loaded database", "platforms", db.Len(), "entries", db.Count())
	return db, nil
}

// SaveDatabase overwrites the database file with db.
func (p *Persister) SaveDatabase(db *Database) error {
	data, err := json.Marshal(db)
	if err != nil {
		return opError("dump database", KindMalformedData, err)
	}
	if err := p.Storage.WriteAll(p.DatabasePath, data); err != nil {
		return opError("dump database", KindIO, err)
	}
	return nil
}

// preferenceFile omits iterations at the default so the record stays a
// plain pair of strings.
type preferenceFile struct {
	Salt       string `json:"salt"`
	Hash       string `json:"hash"`
	Iterations int    `json:"iterations,omitempty"`
}

func (pf preferenceFile) preference() (Preference, error) {
	if _, err := decodeB64(pf.Salt); err != nil {
		return Preference{}, fmt.Errorf("salt: %w", err)
	}
	hash, err := decodeB64(pf.Hash)
	if err != nil {
		return Preference{}, fmt.Errorf("hash: %w", err)
	}
	if pf.Salt == "" || len(hash) != DerivedKeyLen {
		return Preference{}, errors.New("salt or hash missing")
	}
	if pf.Iterations < 0 {
		return Preference{}, fmt.Errorf("iterations %d out of range", pf.Iterations)
	}
	return Preference{Salt: pf.Salt, Hash: hash, Iterations: pf.Iterations}, nil
}

func newPreferenceFile(pref Preference) preferenceFile {
	pf := preferenceFile{
		Salt: pref.Salt,
		Hash: base64.URLEncoding.EncodeToString(pref.Hash),
	}
	if n := pref.KDF().iterations(); n != DefaultIterations {
		pf.Iterations = n
	}
	return pf
}

// LoadPreference reads the preference file. ErrPreferenceMissing signals
// a first run.
func (p *Persister) LoadPreference() (Preference, error) {
	if !p.Storage.Exists(p.PreferencePath) {
		return Preference{}, ErrPreferenceMissing
	}
	data, err := p.Storage.ReadAll(p.PreferencePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Preference{}, ErrPreferenceMissing
		}
		return Preference{}, opError("load preference", KindIO, err)
	}
	var pf preferenceFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return Preference{}, opError("load preference", KindMalformedData, err)
	}
	pref, err := pf.preference()
	if err != nil {
		return Preference{}, opError("load preference", KindMalformedData, err)
	}
	return pref, nil
}

// SavePreference overwrites the preference file.
func (p *Persister) SavePreference(pref Preference) error {
	data, err := json.Marshal(newPreferenceFile(pref))
	if err != nil {
		return opError("save preference", KindMalformedData, err)
	}
	if err := p.Storage.WriteAll(p.PreferencePath, data); err != nil {
		return opError("save preference", KindIO, err)
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
