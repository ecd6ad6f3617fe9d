package vault

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDatabase() *Database {
	db := NewDatabase()
	db.Append("pB", Entry{Username: "u1", Password: "p1", Timestamp: "t1"})
	db.Append("pA", Entry{Username: "u2", Password: "p2", Timestamp: "t2"})
	db.Append("pB", Entry{Username: "u3", Password: "p3", Timestamp: "t3"})
	return db
}

func TestDatabase_MarshalFormat(t *testing.T) {
	data, err := json.Marshal(sampleDatabase())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"pB": [{"u1": ["p1", "t1"]}, {"u3": ["p3", "t3"]}],
		"pA": [{"u2": ["p2", "t2"]}]
	}`, string(data))
	assert.Equal(t, `{"pB":[{"u1":["p1","t1"]},{"u3":["p3","t3"]}],"pA":[{"u2":["p2","t2"]}]}`, string(data))
}

func TestDatabase_UnmarshalKeepsOrder(t *testing.T) {
	in := `{"z": [{"u1": ["p1", "t1"]}], "a": [], "m": [{"u2": ["p2", "t2"]}, {"u3": ["p3", "t3"]}]}`

	db := NewDatabase()
	require.NoError(t, json.Unmarshal([]byte(in), db))

	if diff := cmp.Diff([]Token{"z", "a", "m"}, db.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, db.Count())
	assert.Empty(t, db.Entries("a"))
	assert.Equal(t, []Entry{
		{Username: "u2", Password: "p2", Timestamp: "t2"},
		{Username: "u3", Password: "p3", Timestamp: "t3"},
	}, db.Entries("m"))
}

func TestDatabase_RoundTrip(t *testing.T) {
	db := sampleDatabase()
	data, err := json.Marshal(db)
	require.NoError(t, err)

	back := NewDatabase()
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, db.Keys(), back.Keys())
	for _, k := range db.Keys() {
		assert.Equal(t, db.Entries(k), back.Entries(k))
	}
}

func TestDatabase_UnmarshalMergesRepeatedKeys(t *testing.T) {
	db := NewDatabase()
	require.NoError(t, json.Unmarshal([]byte(`{"p": [{"u1": ["a", "b"]}], "p": [{"u2": ["c", "d"]}]}`), db))
	assert.Equal(t, 1, db.Len())
	assert.Len(t, db.Entries("p"), 2)
}

func TestDatabase_UnmarshalNull(t *testing.T) {
	db := sampleDatabase()
	require.NoError(t, json.Unmarshal([]byte(`null`), db))
	assert.Zero(t, db.Len())
}

func TestDatabase_UnmarshalRejectsBadShapes(t *testing.T) {
	tests := map[string]string{
		"array at top":         `[]`,
		"string at top":        `"x"`,
		"entry not object":     `{"p": ["u"]}`,
		"entry with two users": `{"p": [{"u1": ["a", "b"], "u2": ["c", "d"]}]}`,
		"empty entry":          `{"p": [{}]}`,
		"one value":            `{"p": [{"u": ["a"]}]}`,
		"three values":         `{"p": [{"u": ["a", "b", "c"]}]}`,
		"truncated":            `{"p": [{"u": ["a", "b"]}]`,
		"trailing data":        `{} {}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			db := sampleDatabase()
			require.Error(t, json.Unmarshal([]byte(in), db))
			assert.Equal(t, 2, db.Len(), "failed decode must not clobber the database")
		})
	}
}

func TestDatabase_MutationsAndClone(t *testing.T) {
	db := sampleDatabase()
	clone := db.Clone()

	db.remove("pB", 0)
	db.replace("pA", 0, Entry{Username: "u2", Password: "new", Timestamp: "t9"})

	assert.Equal(t, []Entry{{Username: "u3", Password: "p3", Timestamp: "t3"}}, db.Entries("pB"))
	assert.Equal(t, Token("new"), db.Entries("pA")[0].Password)

	assert.Len(t, clone.Entries("pB"), 2, "clone must be independent")
	assert.Equal(t, Token("p2"), clone.Entries("pA")[0].Password)
	assert.Nil(t, db.Entries("missing"))
}
