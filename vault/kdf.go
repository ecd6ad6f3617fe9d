package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveKey stretches secretContext with PBKDF2-HMAC-SHA256 into a 32-byte key.
func DeriveKey(secretContext string, salt []byte, params KDFParams) []byte {
	return pbkdf2.Key([]byte(secretContext), salt, params.iterations(), DerivedKeyLen, sha256.New)
}

// DeriveVerificationHash commits to secret without exposing any encryption key.
// The second pass is salted with the URL-safe base64 text of the first pass.
func DeriveVerificationHash(secret string, salt []byte, params KDFParams) []byte {
	first := DeriveKey(secret, salt, params)
	return DeriveKey(secret, []byte(base64.URLEncoding.EncodeToString(first)), params)
}

// RandomSalt reads SaltLen bytes from r, or from crypto/rand when r is nil.
func RandomSalt(r io.Reader) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	return salt, nil
}

// keyring memoizes derived keys by context for the lifetime of one operation.
type keyring struct {
	salt   []byte
	params KDFParams
	keys   map[string][]byte
}

func newKeyring(salt []byte, params KDFParams) *keyring {
	return &keyring{salt: salt, params: params, keys: make(map[string][]byte)}
}

func (k *keyring) key(secretContext string) []byte {
	if key, ok := k.keys[secretContext]; ok {
		return key
	}
	key := DeriveKey(secretContext, k.salt, k.params)
	k.keys[secretContext] = key
	return key
}
