package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Backup is a sealed snapshot of the preference record and the database.
type Backup struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Scheme     string         `json:"scheme"`
	Preference preferenceFile `json:"preference"`
	Database   *Database      `json:"database"`
}

// ExportBackup seals the current state to path, encrypted under secret.
func (s *Store) ExportBackup(secret, path string) (*Backup, error) {
	const op = "export backup"
	if _, err := s.unlock(op, secret); err != nil {
		return nil, err
	}

	b := &Backup{
		ID:         uuid.New().String(),
		CreatedAt:  s.cipher.clock.Now().UTC(),
		Scheme:     s.scheme.String(),
		Preference: newPreferenceFile(s.pref),
		Database:   s.db.Clone(),
	}
	pt, err := json.Marshal(b)
	if err != nil {
		return nil, opError(op, KindMalformedData, err)
	}

	params := s.backupKDF
	params.Salt, err = randBytes(s.rand, SaltLen)
	if err != nil {
		return nil, opError(op, KindIO, err)
	}
	nonce, err := randBytes(s.rand, backupNonceLen)
	if err != nil {
		return nil, opError(op, KindIO, err)
	}
	hdr, err := encodeHeader(backupHeader{
		KDFAlgo:      kdfArgon2id,
		ArgonTime:    params.Time,
		ArgonMemory:  params.Memory,
		ArgonThreads: params.Threads,
		Salt:         params.Salt,
		Nonce:        nonce,
	})
	if err != nil {
		return nil, opError(op, KindInvalidInput, err)
	}

	key, err := deriveBackupKey([]byte(secret), params)
	if err != nil {
		return nil, opError(op, KindIO, err)
	}
	defer zero(key)
	ct, err := sealBackup(key, nonce, pt, hdr)
	if err != nil {
		return nil, opError(op, KindInvalidInput, err)
	}

	if err := s.persister.Storage.WriteAll(path, append(hdr, ct...)); err != nil {
		return nil, opError(op, KindIO, err)
	}
	s.logger.Info("exported backup", "id", b.ID, "entries", b.Database.Count())
	return b, nil
}

// ReadBackup opens a sealed backup. A wrong secret or a tampered file
// fails with ErrAuthFailed.
func ReadBackup(storage Storage, path, secret string) (*Backup, error) {
	const op = "read backup"
	raw, err := storage.ReadAll(path)
	if err != nil {
		return nil, opError(op, KindIO, err)
	}
	h, hdr, ct, err := decodeHeader(raw)
	if err != nil {
		return nil, opError(op, KindMalformedData, err)
	}
	key, err := deriveBackupKey([]byte(secret), BackupKDF{
		Time:    h.ArgonTime,
		Memory:  h.ArgonMemory,
		Threads: h.ArgonThreads,
		Salt:    h.Salt,
	})
	if err != nil {
		return nil, opError(op, KindIO, err)
	}
	defer zero(key)
	pt, err := openBackup(key, h.Nonce, ct, hdr)
	if err != nil {
		return nil, opError(op, KindAuthentication, err)
	}
	var b Backup
	if err := json.Unmarshal(pt, &b); err != nil {
		return nil, opError(op, KindMalformedData, err)
	}
	if b.Database == nil {
		b.Database = NewDatabase()
	}
	return &b, nil
}

// RestoreBackup replaces the database with the one sealed in path. The
// backup must come from this preference record and context scheme; the
// preference record itself is never rewritten.
func (s *Store) RestoreBackup(secret, path string) (*Backup, error) {
	const op = "restore backup"
	if _, err := s.unlock(op, secret); err != nil {
		return nil, err
	}
	b, err := ReadBackup(s.persister.Storage, path, secret)
	if err != nil {
		return nil, err
	}
	pref, err := b.Preference.preference()
	if err != nil {
		return nil, opError(op, KindMalformedData, err)
	}
	if pref.Salt != s.pref.Salt || !bytes.Equal(pref.Hash, s.pref.Hash) || pref.KDF().iterations() != s.pref.KDF().iterations() {
		return nil, opError(op, KindInvalidInput, errors.New("backup was made under a different preference record"))
	}
	if b.Scheme != s.scheme.String() {
		return nil, opError(op, KindInvalidInput, fmt.Errorf("backup uses context scheme %q, store uses %q", b.Scheme, s.scheme))
	}

	s.db = b.Database
	s.logger.Info("restored backup", "id", b.ID, "entries", s.db.Count())
	return b, s.persist(op)
}
