package vault

import (
	"fmt"
	"strconv"
	"strings"
)

// ContextScheme decides how a master secret and identifying fields are
// folded into the string fed to DeriveKey.
type ContextScheme uint8

const (
	// SchemeConcat joins the fields with no separator. Stores written by
	// earlier releases use it. Distinct pairs such as ("ab","c") and
	// ("a","bc") share a key under this scheme.
	SchemeConcat ContextScheme = iota
	// SchemeFramed length-prefixes every field so no two field lists collide.
	SchemeFramed
)

func (s ContextScheme) String() string {
	switch s {
	case SchemeConcat:
		return "concat"
	case SchemeFramed:
		return "framed"
	default:
		return "scheme(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseContextScheme maps a config value to a scheme. Empty means concat.
func ParseContextScheme(s string) (ContextScheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "concat":
		return SchemeConcat, nil
	case "framed":
		return SchemeFramed, nil
	default:
		return 0, opError("parse scheme", KindInvalidInput, fmt.Errorf("unknown context scheme %q", s))
	}
}

// Compose builds the KDF input for secret and the given fields.
func (s ContextScheme) Compose(secret string, fields ...string) string {
	if s != SchemeFramed {
		return secret + strings.Join(fields, "")
	}
	var b strings.Builder
	for _, f := range append([]string{secret}, fields...) {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
