package vault

import (
	"errors"
	"fmt"
	"strings"
)

// location points at one entry inside the database.
type location struct {
	key   Token
	index int
	entry Entry
}

// resolvePlatformKeys returns every platform key that decrypts to platform.
// Tokens are non-deterministic, so each key has to be opened and compared.
func (s *Store) resolvePlatformKeys(c *Cipher, secret, platform string) ([]Token, error) {
	ctx := s.scheme.Compose(secret)
	var keys []Token
	for _, k := range s.db.Keys() {
		name, err := c.Decrypt(k, ctx)
		if err != nil {
			return nil, fmt.Errorf("opening platform key: %w", err)
		}
		if name == platform {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// resolveUsername scans the entries under every matching platform key in
// order and returns the first whose username decrypts to username. The
// platform keys are returned too so callers can tell the two misses apart.
func (s *Store) resolveUsername(c *Cipher, secret, platform, username string) ([]Token, *location, error) {
	keys, err := s.resolvePlatformKeys(c, secret, platform)
	if err != nil {
		return nil, nil, err
	}
	ctx := s.scheme.Compose(secret, platform)
	for _, k := range keys {
		for i, e := range s.db.Entries(k) {
			name, err := c.Decrypt(e.Username, ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("opening username: %w", err)
			}
			if name == username {
				return keys, &location{key: k, index: i, entry: e}, nil
			}
		}
	}
	return keys, nil, nil
}

func (s *Store) locate(op string, c *Cipher, secret, platform, username string) (*location, error) {
	keys, loc, err := s.resolveUsername(c, secret, platform, username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(keys) == 0 {
		return nil, opError(op, KindPlatformNotFound, nil)
	}
	if loc == nil {
		return nil, opError(op, KindUsernameNotFound, nil)
	}
	return loc, nil
}

func (s *Store) sealItem(c *Cipher, secret, platform, username, password string) (Token, Token, error) {
	ctx := s.scheme.Compose(secret, platform, username)
	encPassword, err := c.Encrypt(password, ctx)
	if err != nil {
		return "", "", err
	}
	encTime, err := c.Encrypt(c.clock.Now().Format(TimestampLayout), ctx)
	if err != nil {
		return "", "", err
	}
	return encPassword, encTime, nil
}

// AddCredential stores a new platform/username/password triple. A username
// already present under the same plaintext platform fails with
// ErrDuplicateEntry and leaves the database untouched.
func (s *Store) AddCredential(secret, platform, username, password string) error {
	const op = "add credential"
	if platform == "" || username == "" {
		return opError(op, KindInvalidInput, errors.New("platform and username are required"))
	}
	c, err := s.unlock(op, secret)
	if err != nil {
		return err
	}

	encPlatform, err := c.Encrypt(platform, s.scheme.Compose(secret))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	encUsername, err := c.Encrypt(username, s.scheme.Compose(secret, platform))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	encPassword, encTime, err := s.sealItem(c, secret, platform, username, password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	keys, loc, err := s.resolveUsername(c, secret, platform, username)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if loc != nil {
		return opError(op, KindDuplicateEntry, nil)
	}

	key := encPlatform
	if len(keys) > 0 {
		key = keys[0]
	}
	s.db.Append(key, Entry{Username: encUsername, Password: encPassword, Timestamp: encTime})
	s.logger.Debug("added credential", "new_platform", len(keys) == 0)
	return s.persist(op)
}

// DeletePassword removes the entry for platform/username.
func (s *Store) DeletePassword(secret, platform, username string) error {
	const op = "delete password"
	c, err := s.unlock(op, secret)
	if err != nil {
		return err
	}
	loc, err := s.locate(op, c, secret, platform, username)
	if err != nil {
		return err
	}
	s.db.remove(loc.key, loc.index)
	s.logger.Debug("deleted credential")
	return s.persist(op)
}

// EditPassword replaces the stored password and refreshes its timestamp.
// Setting the password it already has fails with ErrSamePassword and
// writes nothing.
func (s *Store) EditPassword(secret, platform, username, newPassword string) error {
	const op = "edit password"
	c, err := s.unlock(op, secret)
	if err != nil {
		return err
	}
	loc, err := s.locate(op, c, secret, platform, username)
	if err != nil {
		return err
	}
	current, err := c.Decrypt(loc.entry.Password, s.scheme.Compose(secret, platform, username))
	if err != nil {
		return fmt.Errorf("%s: opening password: %w", op, err)
	}
	if current == newPassword {
		return opError(op, KindSamePassword, nil)
	}
	encPassword, encTime, err := s.sealItem(c, secret, platform, username, newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.db.replace(loc.key, loc.index, Entry{Username: loc.entry.Username, Password: encPassword, Timestamp: encTime})
	s.logger.Debug("edited credential")
	return s.persist(op)
}

// GetCredential decrypts the password and timestamp for platform/username.
func (s *Store) GetCredential(secret, platform, username string) (Credential, error) {
	const op = "get credential"
	c, err := s.unlock(op, secret)
	if err != nil {
		return Credential{}, err
	}
	loc, err := s.locate(op, c, secret, platform, username)
	if err != nil {
		return Credential{}, err
	}
	ctx := s.scheme.Compose(secret, platform, username)
	password, err := c.Decrypt(loc.entry.Password, ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%s: opening password: %w", op, err)
	}
	ts, err := c.Decrypt(loc.entry.Timestamp, ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%s: opening timestamp: %w", op, err)
	}
	return Credential{Platform: platform, Username: username, Password: password, Timestamp: ts}, nil
}

// ListPlatforms returns the distinct platform names containing keyword,
// in first-seen order.
func (s *Store) ListPlatforms(secret, keyword string) ([]string, error) {
	const op = "list platforms"
	c, err := s.unlock(op, secret)
	if err != nil {
		return nil, err
	}
	names, err := s.platformNames(c, secret, keyword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return names, nil
}

func (s *Store) platformNames(c *Cipher, secret, keyword string) ([]string, error) {
	ctx := s.scheme.Compose(secret)
	seen := make(map[string]bool)
	names := []string{}
	for _, k := range s.db.Keys() {
		name, err := c.Decrypt(k, ctx)
		if err != nil {
			return nil, fmt.Errorf("opening platform key: %w", err)
		}
		if seen[name] || !strings.Contains(name, keyword) {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// ListUsernames returns the usernames under platform containing keyword.
// Duplicates spread over several keys of the same platform are kept.
func (s *Store) ListUsernames(secret, platform, keyword string) ([]string, error) {
	const op = "list usernames"
	c, err := s.unlock(op, secret)
	if err != nil {
		return nil, err
	}
	names, err := s.usernames(c, secret, platform, keyword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return names, nil
}

func (s *Store) usernames(c *Cipher, secret, platform, keyword string) ([]string, error) {
	keys, err := s.resolvePlatformKeys(c, secret, platform)
	if err != nil {
		return nil, err
	}
	ctx := s.scheme.Compose(secret, platform)
	names := []string{}
	for _, k := range keys {
		for _, e := range s.db.Entries(k) {
			name, err := c.Decrypt(e.Username, ctx)
			if err != nil {
				return nil, fmt.Errorf("opening username: %w", err)
			}
			if strings.Contains(name, keyword) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// SearchUsernames lists, for every platform whose name contains
// platformKeyword, the usernames containing usernameKeyword.
func (s *Store) SearchUsernames(secret, usernameKeyword, platformKeyword string) ([]PlatformMatch, error) {
	const op = "search usernames"
	c, err := s.unlock(op, secret)
	if err != nil {
		return nil, err
	}
	platforms, err := s.platformNames(c, secret, platformKeyword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	matches := make([]PlatformMatch, 0, len(platforms))
	for _, p := range platforms {
		names, err := s.usernames(c, secret, p, usernameKeyword)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		matches = append(matches, PlatformMatch{Platform: p, Usernames: names})
	}
	return matches, nil
}

// EncryptMessage seals an arbitrary message under the bare master secret.
func (s *Store) EncryptMessage(secret, message string) (Token, error) {
	const op = "encrypt message"
	c, err := s.unlock(op, secret)
	if err != nil {
		return "", err
	}
	tok, err := c.Encrypt(message, s.scheme.Compose(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

// DecryptMessage opens a token produced by EncryptMessage.
func (s *Store) DecryptMessage(secret string, tok Token) (string, error) {
	const op = "decrypt message"
	c, err := s.unlock(op, secret)
	if err != nil {
		return "", err
	}
	msg, err := c.Decrypt(tok, s.scheme.Compose(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}
