package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "S3cret!"

var testKDF = KDFParams{Iterations: 1000}

var testBackupKDF = BackupKDF{Time: 1, Memory: 8 * 1024, Threads: 1}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	store   *Store
	storage *MemoryStorage
	clock   *fakeClock
	opts    Options
}

func newTestEnv(t *testing.T, scheme ContextScheme) *testEnv {
	t.Helper()
	storage := NewMemoryStorage()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)}
	opts := Options{
		Persister: &Persister{
			Storage:        storage,
			DatabasePath:   "db/database.json",
			PreferencePath: "db/preference.json",
		},
		KDF:    testKDF,
		Backup: testBackupKDF,
		Scheme: scheme,
		Clock:  clock,
	}
	s, err := Initialize(opts, testSecret, testSecret)
	require.NoError(t, err)
	return &testEnv{store: s, storage: storage, clock: clock, opts: opts}
}

func (e *testEnv) add(t *testing.T, platform, username, password string) {
	t.Helper()
	require.NoError(t, e.store.AddCredential(testSecret, platform, username, password))
}
