package vault

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Scenario(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store

	require.NoError(t, s.AddCredential(testSecret, "github", "alice", "pw1"))

	platforms, err := s.ListPlatforms(testSecret, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, platforms)

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password)
	assert.Equal(t, "2024-03-01 10:00:00", cred.Timestamp)

	env.clock.advance(time.Hour)
	require.NoError(t, s.EditPassword(testSecret, "github", "alice", "pw2"))

	cred, err = s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw2", cred.Password)
	assert.Equal(t, "2024-03-01 11:00:00", cred.Timestamp)

	require.NoError(t, s.DeletePassword(testSecret, "github", "alice"))

	_, err = s.GetCredential(testSecret, "github", "alice")
	require.ErrorIs(t, err, ErrUsernameNotFound)
}

func TestStore_PersistsAfterEveryMutation(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	env.add(t, "github", "alice", "pw1")

	reopened, err := Open(env.opts)
	require.NoError(t, err)

	cred, err := reopened.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password)
}

func TestStore_CheckPassword(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store

	assert.Equal(t, Locked, s.GateState())
	assert.True(t, s.CheckPassword(testSecret))
	assert.Equal(t, Unlocked, s.GateState())

	for _, variant := range []string{"S3cret", "S3cret!!", "s3cret!", "S3cre!!", "", " S3cret!"} {
		assert.False(t, s.CheckPassword(variant), "variant %q", variant)
		assert.Equal(t, Locked, s.GateState())
	}
}

func TestStore_GateRecheckedEveryCall(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")
	assert.Equal(t, Unlocked, s.GateState())

	_, err := s.ListPlatforms("wrong", "")
	require.ErrorIs(t, err, ErrAuthFailed)
	require.ErrorIs(t, err, ErrWrongSecret)
	assert.Equal(t, Locked, s.GateState(), "an earlier success must not carry over")

	tests := map[string]func() error{
		"add":    func() error { return s.AddCredential("wrong", "x", "y", "z") },
		"delete": func() error { return s.DeletePassword("wrong", "github", "alice") },
		"edit":   func() error { return s.EditPassword("wrong", "github", "alice", "pw9") },
		"get": func() error {
			_, err := s.GetCredential("wrong", "github", "alice")
			return err
		},
		"usernames": func() error {
			_, err := s.ListUsernames("wrong", "github", "")
			return err
		},
		"search": func() error {
			_, err := s.SearchUsernames("wrong", "", "")
			return err
		},
		"encrypt": func() error {
			_, err := s.EncryptMessage("wrong", "m")
			return err
		},
	}
	for name, call := range tests {
		t.Run(name, func(t *testing.T) {
			require.True(t, s.CheckPassword(testSecret))
			err := call()
			require.ErrorIs(t, err, ErrAuthFailed)
			assert.Equal(t, KindAuthentication, KindOf(err))
			assert.Equal(t, Locked, s.GateState())
		})
	}

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password, "rejected calls must not mutate")
}

func TestStore_AddDuplicate(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")

	before, err := s.ListUsernames(testSecret, "github", "")
	require.NoError(t, err)
	dumped, _ := env.storage.ReadAll("db/database.json")

	err = s.AddCredential(testSecret, "github", "alice", "other")
	require.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Equal(t, KindDuplicateEntry, KindOf(err))

	after, err := s.ListUsernames(testSecret, "github", "")
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))

	dumpedAfter, _ := env.storage.ReadAll("db/database.json")
	assert.Equal(t, dumped, dumpedAfter, "duplicate must not trigger a dump")

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password)
}

func TestStore_AddReusesExistingPlatformKey(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")
	env.add(t, "github", "bob", "pw2")
	env.add(t, "gitlab", "alice", "pw3")

	assert.Equal(t, 2, s.db.Len())
	assert.Len(t, s.db.Entries(s.db.Keys()[0]), 2)

	names, err := s.ListUsernames(testSecret, "github", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestStore_AddRequiresPlatformAndUsername(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	require.ErrorIs(t, env.store.AddCredential(testSecret, "", "alice", "pw"), ErrInvalidInput)
	require.ErrorIs(t, env.store.AddCredential(testSecret, "github", "", "pw"), ErrInvalidInput)
	assert.Zero(t, env.store.db.Len())
}

// addRawPlatformKey plants a second, independently encrypted key for an
// existing plaintext platform, as older stores may contain.
func addRawPlatformKey(t *testing.T, s *Store, platform, username, password string) {
	t.Helper()
	c := s.cipher.scoped()
	key, err := c.Encrypt(platform, s.scheme.Compose(testSecret))
	require.NoError(t, err)
	user, err := c.Encrypt(username, s.scheme.Compose(testSecret, platform))
	require.NoError(t, err)
	pw, ts, err := s.sealItem(c, testSecret, platform, username, password)
	require.NoError(t, err)
	s.db.Append(key, Entry{Username: user, Password: pw, Timestamp: ts})
}

func TestStore_DuplicatePlatformKeysAreReconciled(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")
	addRawPlatformKey(t, s, "github", "bob", "pw2")
	addRawPlatformKey(t, s, "github", "alice", "shadow")
	require.Equal(t, 3, s.db.Len())

	platforms, err := s.ListPlatforms(testSecret, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, platforms, "platforms are deduplicated by plaintext")

	names, err := s.ListUsernames(testSecret, "github", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "alice"}, names, "usernames are not deduplicated")

	cred, err := s.GetCredential(testSecret, "github", "bob")
	require.NoError(t, err)
	assert.Equal(t, "pw2", cred.Password)

	cred, err = s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password, "first match in key order wins")

	require.ErrorIs(t, s.AddCredential(testSecret, "github", "bob", "x"), ErrDuplicateEntry)

	env.add(t, "github", "carol", "pw4")
	assert.Equal(t, 3, s.db.Len(), "new entry goes under the first existing key")
	assert.Len(t, s.db.Entries(s.db.Keys()[0]), 2)

	require.NoError(t, s.DeletePassword(testSecret, "github", "bob"))
	_, err = s.GetCredential(testSecret, "github", "bob")
	require.ErrorIs(t, err, ErrUsernameNotFound)
}

func TestStore_DeleteNotFound(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")

	err := s.DeletePassword(testSecret, "gitlab", "alice")
	require.ErrorIs(t, err, ErrPlatformNotFound)
	assert.Equal(t, KindPlatformNotFound, KindOf(err))

	err = s.DeletePassword(testSecret, "github", "bob")
	require.ErrorIs(t, err, ErrUsernameNotFound)

	names, err := s.ListUsernames(testSecret, "github", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)
}

func TestStore_EditPassword(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")
	before, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)

	env.clock.advance(24 * time.Hour)
	err = s.EditPassword(testSecret, "github", "alice", "pw1")
	require.ErrorIs(t, err, ErrSamePassword)

	same, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, before, same, "no-op edit must not touch the timestamp")

	require.NoError(t, s.EditPassword(testSecret, "github", "alice", "pw2"))
	after, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw2", after.Password)
	assert.Equal(t, "2024-03-02 10:00:00", after.Timestamp)

	require.ErrorIs(t, s.EditPassword(testSecret, "nope", "alice", "x"), ErrPlatformNotFound)
	require.ErrorIs(t, s.EditPassword(testSecret, "github", "nobody", "x"), ErrUsernameNotFound)
}

func TestStore_GetNotFound(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	_, err := env.store.GetCredential(testSecret, "github", "alice")
	require.ErrorIs(t, err, ErrPlatformNotFound)
}

func TestStore_ListFilters(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "1")
	env.add(t, "gitlab", "alina", "2")
	env.add(t, "bank", "al", "3")
	env.add(t, "github", "bob", "4")

	platforms, err := s.ListPlatforms(testSecret, "git")
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"github", "gitlab"}, platforms); diff != "" {
		t.Fatalf("platforms (-want +got):\n%s", diff)
	}

	none, err := s.ListPlatforms(testSecret, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)

	names, err := s.ListUsernames(testSecret, "github", "li")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)

	missing, err := s.ListUsernames(testSecret, "nowhere", "")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_SearchUsernames(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "1")
	env.add(t, "gitlab", "alina", "2")
	env.add(t, "gitlab", "bob", "3")
	env.add(t, "bank", "alfred", "4")

	got, err := s.SearchUsernames(testSecret, "al", "git")
	require.NoError(t, err)
	want := []PlatformMatch{
		{Platform: "github", Usernames: []string{"alice"}},
		{Platform: "gitlab", Usernames: []string{"alina"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("search (-want +got):\n%s", diff)
	}

	all, err := s.SearchUsernames(testSecret, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_EncryptDecryptMessage(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store

	tok, err := s.EncryptMessage(testSecret, "note to self")
	require.NoError(t, err)

	msg, err := s.DecryptMessage(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "note to self", msg)

	_, err = s.DecryptMessage(testSecret, "garbage")
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestStore_DumpFailureKeepsMemory(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.storage.FailWrites = errors.New("disk full")

	err := s.AddCredential(testSecret, "github", "alice", "pw1")
	require.ErrorIs(t, err, ErrIO)

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err, "in-memory mutation is not rolled back")
	assert.Equal(t, "pw1", cred.Password)

	env.storage.FailWrites = nil
	require.NoError(t, s.Dump())
	reopened, err := Open(env.opts)
	require.NoError(t, err)
	_, err = reopened.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
}

func TestStore_CorruptTokenSurfaces(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	s := env.store
	env.add(t, "github", "alice", "pw1")
	s.db.Append("not-a-token", Entry{Username: "u", Password: "p", Timestamp: "t"})

	_, err := s.ListPlatforms(testSecret, "")
	require.ErrorIs(t, err, ErrMalformedToken)

	err = s.AddCredential(testSecret, "x", "y", "z")
	require.ErrorIs(t, err, ErrMalformedToken)
	assert.Equal(t, 2, s.db.Len(), "failed add must not mutate")
}

func TestStore_FramedSchemeSeparatesAmbiguousPairs(t *testing.T) {
	concat := newTestEnv(t, SchemeConcat)
	framed := newTestEnv(t, SchemeFramed)

	for _, env := range []*testEnv{concat, framed} {
		env.add(t, "ab", "c", "pw-abc")
		env.add(t, "a", "bc", "pw-abc2")
	}

	// Under concat, ("ab","c") and ("a","bc") derive the same item key, so a
	// password token from one entry opens under the other's context.
	s := concat.store
	c := s.cipher.scoped()
	entry := s.db.Entries(s.db.Keys()[0])[0]
	got, err := c.Decrypt(entry.Password, s.scheme.Compose(testSecret, "a", "bc"))
	require.NoError(t, err)
	assert.Equal(t, "pw-abc", got)

	s = framed.store
	c = s.cipher.scoped()
	entry = s.db.Entries(s.db.Keys()[0])[0]
	_, err = c.Decrypt(entry.Password, s.scheme.Compose(testSecret, "a", "bc"))
	require.ErrorIs(t, err, ErrAuthFailed)

	for _, env := range []*testEnv{concat, framed} {
		cred, err := env.store.GetCredential(testSecret, "a", "bc")
		require.NoError(t, err)
		assert.Equal(t, "pw-abc2", cred.Password)
	}
}

func TestOpen_FirstRun(t *testing.T) {
	p, _ := newMemPersister()
	_, err := Open(Options{Persister: p, KDF: testKDF})
	require.ErrorIs(t, err, ErrPreferenceMissing)

	_, err = Open(Options{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestInitialize(t *testing.T) {
	p, m := newMemPersister()
	opts := Options{Persister: p, KDF: testKDF}

	_, err := Initialize(opts, "one", "two")
	require.ErrorIs(t, err, ErrSecretMismatch)
	assert.False(t, m.Exists("preference.json"))

	_, err = Initialize(opts, "", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	s, err := Initialize(opts, testSecret, testSecret)
	require.NoError(t, err)
	assert.True(t, s.CheckPassword(testSecret))
	assert.True(t, m.Exists("preference.json"))
	assert.True(t, m.Exists("database.json"))

	_, err = Initialize(opts, testSecret, testSecret)
	require.ErrorIs(t, err, ErrInvalidInput, "preference is created once")

	reopened, err := Open(opts)
	require.NoError(t, err)
	assert.True(t, reopened.CheckPassword(testSecret))
	assert.False(t, reopened.CheckPassword("S3cret?"))
}

func TestStore_NeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p, _ := newMemPersister()
	s, err := Initialize(Options{Persister: p, KDF: testKDF, Logger: logger}, testSecret, testSecret)
	require.NoError(t, err)
	require.NoError(t, s.AddCredential(testSecret, "github", "alice", "pw-very-secret"))
	require.NoError(t, s.EditPassword(testSecret, "github", "alice", "pw-other"))
	_, _ = s.ListPlatforms("wrong", "")

	out := buf.String()
	assert.Contains(t, out, "component=vault")
	for _, secret := range []string{testSecret, "github", "alice", "pw-very-secret", "pw-other"} {
		assert.NotContains(t, out, secret)
	}
}

func TestErrorKinds(t *testing.T) {
	err := opError("edit password", KindSamePassword, nil)
	assert.Equal(t, "vault: edit password: same password", err.Error())
	assert.True(t, errors.Is(err, ErrSamePassword))
	assert.False(t, errors.Is(err, ErrDuplicateEntry))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "kind(200)", Kind(200).String())
}
