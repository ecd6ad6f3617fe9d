package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealed backup files use their own whole-file scheme, independent of the
// per-field tokens: Argon2id -> HKDF-SHA256 -> XChaCha20-Poly1305.
const (
	BackupMagic   = "CVBK"
	BackupVersion = 0x01

	backupKeyLen   = 32
	backupNonceLen = chacha20poly1305.NonceSizeX
	kdfArgon2id    = 0x01

	// 4 GiB, in KiB.
	maxBackupMemory = 4 * 1024 * 1024
)

var backupInfo = []byte("credvault backup v1")

// BackupKDF holds the Argon2id cost parameters for sealed backups.
type BackupKDF struct {
	Time, Memory uint32
	Threads      uint8
	Salt         []byte
}

func DefaultBackupKDF() BackupKDF { return BackupKDF{Time: 3, Memory: 64 * 1024, Threads: 1} }

type backupHeader struct {
	Flags        uint16
	KDFAlgo      uint8
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
	Salt         []byte
	Nonce        []byte
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func randBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func deriveBackupKey(secret []byte, params BackupKDF) ([]byte, error) {
	master := argon2.IDKey(secret, params.Salt, params.Time, params.Memory, params.Threads, backupKeyLen)
	defer zero(master)
	h := hkdf.New(sha256.New, master, nil, backupInfo)
	key := make([]byte, backupKeyLen)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

func sealBackup(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func openBackup(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

func encodeHeader(h backupHeader) ([]byte, error) {
	buf := &bytes.Buffer{}

	buf.WriteString(BackupMagic)
	buf.WriteByte(BackupVersion)
	if err := binary.Write(buf, binary.BigEndian, h.Flags); err != nil {
		return nil, err
	}
	buf.WriteByte(h.KDFAlgo)

	if err := binary.Write(buf, binary.BigEndian, h.ArgonTime); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, h.ArgonMemory); err != nil {
		return nil, err
	}
	buf.WriteByte(h.ArgonThreads)

	for _, field := range [][]byte{h.Salt, h.Nonce} {
		if len(field) > 255 {
			return nil, errors.New("header field too long")
		}
		buf.WriteByte(uint8(len(field)))
		buf.Write(field)
	}

	return buf.Bytes(), nil
}

// decodeHeader splits raw into the header, the header bytes (used as AAD)
// and the ciphertext.
func decodeHeader(raw []byte) (backupHeader, []byte, []byte, error) {
	var h backupHeader
	if len(raw) < len(BackupMagic)+1+2+1+4+4+1+1+1 {
		return h, nil, nil, errors.New("header too short")
	}

	buf := bytes.NewReader(raw)

	magic := make([]byte, len(BackupMagic))
	if _, err := io.ReadFull(buf, magic); err != nil {
		return h, nil, nil, err
	}
	if string(magic) != BackupMagic {
		return h, nil, nil, errors.New("bad magic")
	}

	var version byte
	if err := binary.Read(buf, binary.BigEndian, &version); err != nil {
		return h, nil, nil, err
	}
	if version != BackupVersion {
		return h, nil, nil, errors.New("unsupported backup version")
	}

	for _, v := range []any{&h.Flags, &h.KDFAlgo, &h.ArgonTime, &h.ArgonMemory, &h.ArgonThreads} {
		if err := binary.Read(buf, binary.BigEndian, v); err != nil {
			return h, nil, nil, err
		}
	}
	if h.KDFAlgo != kdfArgon2id {
		return h, nil, nil, errors.New("unsupported kdf")
	}
	if h.ArgonTime < 1 || h.ArgonThreads < 1 || h.ArgonMemory > maxBackupMemory {
		return h, nil, nil, errors.New("kdf parameters out of range")
	}

	for _, field := range []*[]byte{&h.Salt, &h.Nonce} {
		var n uint8
		if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
			return h, nil, nil, err
		}
		*field = make([]byte, n)
		if _, err := io.ReadFull(buf, *field); err != nil {
			return h, nil, nil, err
		}
	}
	if len(h.Nonce) != backupNonceLen {
		return h, nil, nil, errors.New("bad nonce length")
	}

	hdrLen := len(raw) - buf.Len()
	return h, raw[:hdrLen], raw[hdrLen:], nil
}
