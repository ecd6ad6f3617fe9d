package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Token layout, before base64url:
//
//	version(1) | unix seconds(8, big endian) | iv(16) | AES-128-CBC ciphertext | HMAC-SHA256(32)
//
// The first half of the derived key signs, the second half encrypts.
const (
	tokenVersion = 0x80
	tokenTSLen   = 8
	tokenIVLen   = aes.BlockSize
	tokenMACLen  = sha256.Size
	tokenHdrLen  = 1 + tokenTSLen + tokenIVLen
	tokenMinLen  = tokenHdrLen + aes.BlockSize + tokenMACLen
)

// EncryptToken seals plaintext under a 32-byte derived key.
func EncryptToken(key []byte, plaintext string, now time.Time, r io.Reader) (Token, error) {
	if len(key) != DerivedKeyLen {
		return "", opError("encrypt", KindInvalidInput, fmt.Errorf("key must be %d bytes, got %d", DerivedKeyLen, len(key)))
	}
	if r == nil {
		r = rand.Reader
	}
	signKey, encKey := key[:DerivedKeyLen/2], key[DerivedKeyLen/2:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", opError("encrypt", KindInvalidInput, err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)

	raw := make([]byte, tokenHdrLen+len(padded), tokenHdrLen+len(padded)+tokenMACLen)
	raw[0] = tokenVersion
	binary.BigEndian.PutUint64(raw[1:1+tokenTSLen], uint64(now.Unix()))
	iv := raw[1+tokenTSLen : tokenHdrLen]
	if _, err := io.ReadFull(r, iv); err != nil {
		return "", fmt.Errorf("reading iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(raw[tokenHdrLen:], padded)

	mac := hmac.New(sha256.New, signKey)
	mac.Write(raw)
	raw = mac.Sum(raw)

	return Token(base64.URLEncoding.EncodeToString(raw)), nil
}

// DecryptToken verifies and opens tok, returning the plaintext and the
// timestamp embedded at encryption time.
func DecryptToken(key []byte, tok Token) (string, time.Time, error) {
	if len(key) != DerivedKeyLen {
		return "", time.Time{}, opError("decrypt", KindInvalidInput, fmt.Errorf("key must be %d bytes, got %d", DerivedKeyLen, len(key)))
	}
	raw, err := decodeToken(tok)
	if err != nil {
		return "", time.Time{}, err
	}
	signKey, encKey := key[:DerivedKeyLen/2], key[DerivedKeyLen/2:]

	signed, sum := raw[:len(raw)-tokenMACLen], raw[len(raw)-tokenMACLen:]
	mac := hmac.New(sha256.New, signKey)
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), sum) {
		return "", time.Time{}, ErrAuthFailed
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", time.Time{}, opError("decrypt", KindInvalidInput, err)
	}
	iv := signed[1+tokenTSLen : tokenHdrLen]
	ct := signed[tokenHdrLen:]
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	pt, err = pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return "", time.Time{}, opError("decrypt", KindAuthentication, err)
	}

	ts := time.Unix(int64(binary.BigEndian.Uint64(signed[1:1+tokenTSLen])), 0)
	return string(pt), ts, nil
}

func decodeToken(tok Token) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(string(tok))
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(string(tok))
	}
	if err != nil {
		return nil, opError("decode token", KindMalformedToken, err)
	}
	if len(raw) < tokenMinLen {
		return nil, opError("decode token", KindMalformedToken, fmt.Errorf("token too short: %d bytes", len(raw)))
	}
	if raw[0] != tokenVersion {
		return nil, opError("decode token", KindMalformedToken, fmt.Errorf("unsupported version 0x%02x", raw[0]))
	}
	if (len(raw)-tokenHdrLen-tokenMACLen)%aes.BlockSize != 0 {
		return nil, opError("decode token", KindMalformedToken, errors.New("ciphertext is not block aligned"))
	}
	return raw, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}

// Cipher encrypts and decrypts single strings under context-derived keys.
type Cipher struct {
	salt   []byte
	params KDFParams
	clock  Clock
	rand   io.Reader
	cache  *keyring
}

// NewCipher returns a Cipher deriving keys with salt. Nil clock and rand
// fall back to the wall clock and crypto/rand.
func NewCipher(salt []byte, params KDFParams, clock Clock, r io.Reader) *Cipher {
	if clock == nil {
		clock = SystemClock
	}
	if r == nil {
		r = rand.Reader
	}
	return &Cipher{salt: salt, params: params, clock: clock, rand: r}
}

// scoped returns a copy that caches derived keys until it is dropped.
func (c *Cipher) scoped() *Cipher {
	cp := *c
	cp.cache = newKeyring(c.salt, c.params)
	return &cp
}

func (c *Cipher) key(secretContext string) []byte {
	if c.cache != nil {
		return c.cache.key(secretContext)
	}
	return DeriveKey(secretContext, c.salt, c.params)
}

// Encrypt seals message under the key derived from secretContext.
func (c *Cipher) Encrypt(message, secretContext string) (Token, error) {
	return EncryptToken(c.key(secretContext), message, c.clock.Now(), c.rand)
}

// Decrypt opens tok with the key derived from secretContext.
func (c *Cipher) Decrypt(tok Token, secretContext string) (string, error) {
	pt, _, err := DecryptToken(c.key(secretContext), tok)
	return pt, err
}
