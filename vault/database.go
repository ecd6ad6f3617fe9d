package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Entry is one stored credential: an encrypted username mapped to its
// encrypted password and timestamp.
type Entry struct {
	Username  Token
	Password  Token
	Timestamp Token
}

type bucket struct {
	key     Token
	entries []Entry
}

// Database maps encrypted platform tokens to ordered entry lists. Bucket
// order is kept so dumps are stable, but carries no meaning. The same
// plaintext platform may sit under several keys.
type Database struct {
	buckets []*bucket
	index   map[Token]*bucket
}

func NewDatabase() *Database {
	return &Database{index: make(map[Token]*bucket)}
}

// Len returns the number of platform keys.
func (d *Database) Len() int { return len(d.buckets) }

// Keys returns the platform keys in insertion order.
func (d *Database) Keys() []Token {
	keys := make([]Token, len(d.buckets))
	for i, b := range d.buckets {
		keys[i] = b.key
	}
	return keys
}

// Entries returns a copy of the entries stored under key.
func (d *Database) Entries(key Token) []Entry {
	b, ok := d.index[key]
	if !ok {
		return nil
	}
	return append([]Entry(nil), b.entries...)
}

// Count returns the total number of entries across all keys.
func (d *Database) Count() int {
	n := 0
	for _, b := range d.buckets {
		n += len(b.entries)
	}
	return n
}

// Append adds e under key, creating the key when it is new.
func (d *Database) Append(key Token, e Entry) {
	b, ok := d.index[key]
	if !ok {
		b = &bucket{key: key}
		d.buckets = append(d.buckets, b)
		d.index[key] = b
	}
	b.entries = append(b.entries, e)
}

func (d *Database) remove(key Token, i int) {
	b := d.index[key]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

func (d *Database) replace(key Token, i int, e Entry) {
	d.index[key].entries[i] = e
}

// Clone returns a deep copy of d.
func (d *Database) Clone() *Database {
	c := NewDatabase()
	for _, b := range d.buckets {
		nb := &bucket{key: b.key, entries: append([]Entry(nil), b.entries...)}
		c.buckets = append(c.buckets, nb)
		c.index[b.key] = nb
	}
	return c
}

// MarshalJSON writes
//
//	{"<platform>": [{"<username>": ["<password>", "<timestamp>"]}, ...], ...}
func (d *Database) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range d.buckets {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(b.key))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		list := make([]map[Token][2]Token, len(b.entries))
		for j, e := range b.entries {
			list[j] = map[Token][2]Token{e.Username: {e.Password, e.Timestamp}}
		}
		entries, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		buf.Write(entries)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the format written by MarshalJSON, keeping key order.
// Repeated platform keys are merged.
func (d *Database) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	t, err := dec.Token()
	if err != nil {
		return err
	}
	fresh := NewDatabase()
	if t == nil {
		*d = *fresh
		return nil
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", t)
	}

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := t.(string)
		if !ok {
			return fmt.Errorf("expected platform key, got %v", t)
		}
		var list []map[Token][]Token
		if err := dec.Decode(&list); err != nil {
			return fmt.Errorf("platform %.12s…: %w", key, err)
		}
		if _, ok := fresh.index[Token(key)]; !ok {
			b := &bucket{key: Token(key)}
			fresh.buckets = append(fresh.buckets, b)
			fresh.index[b.key] = b
		}
		for _, m := range list {
			if len(m) != 1 {
				return fmt.Errorf("entry must hold exactly one username, got %d", len(m))
			}
			for user, values := range m {
				if len(values) != 2 {
					return fmt.Errorf("entry must hold password and timestamp, got %d values", len(values))
				}
				fresh.Append(Token(key), Entry{Username: user, Password: values[0], Timestamp: values[1]})
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after object")
	}
	*d = *fresh
	return nil
}
