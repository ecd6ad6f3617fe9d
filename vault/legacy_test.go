package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Files written by the earlier desktop release: the salt text bytes salt
// PBKDF2 at the default 390000 rounds, with concat contexts.
const (
	legacyPreference = `{"salt":"AAECAwQFBgcICQoLDA0ODw==","hash":"gBa77kufFhbwIURdEJvh97LqAJNxbHf6t0-hKQk7aTM="}`
	legacyDatabase   = `{"gAAAAABl4acgoKGio6SlpqeoqaqrrK2urw-yiRPtNvVZrkg72_WyTb5HNdLOjDXVttBMjfbTzYyVh-OaymVo_2vUl2aM0Z5HUA==": [` +
		`{"gAAAAABl4acgoKGio6SlpqeoqaqrrK2ur0afqxoVV0PpHIyk2evHp7q9H8T_u_OHJHlmhXr-AxqZko2YuhKUUNSYjd7_FovHpQ==": [` +
		`"gAAAAABl4acgoKGio6SlpqeoqaqrrK2ur7NNILezSsxBLjZQkIJnNpmIXCjm8a1oLWxk6jQ9Yj54uzEa-lCctqaTFw9r-lPv2w==", ` +
		`"gAAAAABl4acgoKGio6SlpqeoqaqrrK2ur3RDnIpNuhX286JewMuanBiL31s7mqZ3Qai1zXFCh0aNHe7dEWo1S-XcA_poX8S5tpmVCNu11OVI9Nsr5P7joAo="]}]}`
	legacyMessage = Token("gAAAAABl4acgoKGio6SlpqeoqaqrrK2ur7CJ4yz0lKrYrvFuyMINb8HXgRx2hxm-jqcpLD7qRD9ID3YrmtK797cLR56nnBfvDSXfoTvAkJc-ZJefnh6db70=")
)

func TestOpen_LegacyRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("derives keys at the full iteration count")
	}
	p, m := newMemPersister()
	require.NoError(t, m.WriteAll("preference.json", []byte(legacyPreference)))
	require.NoError(t, m.WriteAll("database.json", []byte(legacyDatabase)))

	s, err := Open(Options{Persister: p})
	require.NoError(t, err)
	assert.Equal(t, "AAECAwQFBgcICQoLDA0ODw==", s.pref.Salt)
	assert.Equal(t, DefaultIterations, s.pref.KDF().iterations())

	assert.False(t, s.CheckPassword("S3cret?"))
	require.True(t, s.CheckPassword(testSecret))

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, Credential{Platform: "github", Username: "alice", Password: "pw1", Timestamp: "2024-03-01 10:00:00"}, cred)

	msg, err := s.DecryptMessage(testSecret, legacyMessage)
	require.NoError(t, err)
	assert.Equal(t, "hello from the other side", msg)
}

func TestCreatePreference_SaltIsStoredText(t *testing.T) {
	raw := make([]byte, SaltLen)
	for i := range raw {
		raw[i] = byte(i)
	}
	pref, err := CreatePreference(testSecret, testSecret, bytes.NewReader(raw), testKDF)
	require.NoError(t, err)

	assert.Equal(t, "AAECAwQFBgcICQoLDA0ODw==", pref.Salt)
	assert.Equal(t, testKDF.Iterations, pref.Iterations)
	assert.Equal(t, DeriveVerificationHash(testSecret, []byte(pref.Salt), testKDF), pref.Hash)
	assert.NotEqual(t, DeriveVerificationHash(testSecret, raw, testKDF), pref.Hash)
}

func TestOpen_IterationsComeFromRecord(t *testing.T) {
	env := newTestEnv(t, SchemeConcat)
	env.add(t, "github", "alice", "pw1")

	raw, err := env.storage.ReadAll("db/preference.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"iterations":1000`)

	opts := env.opts
	opts.KDF = KDFParams{Iterations: 5}
	s, err := Open(opts)
	require.NoError(t, err)
	require.True(t, s.CheckPassword(testSecret), "configured iterations must not change an existing record")

	cred, err := s.GetCredential(testSecret, "github", "alice")
	require.NoError(t, err)
	assert.Equal(t, "pw1", cred.Password)
}
