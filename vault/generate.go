package vault

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// GeneratorOptions selects the character classes for Generate. Lowercase
// letters are always included.
type GeneratorOptions struct {
	Length  int
	Upper   bool
	Digits  bool
	Symbols bool
}

func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{Length: 12, Upper: true, Digits: true, Symbols: true}
}

// Generate returns a random password drawn uniformly from the selected
// classes, reading randomness from r (crypto/rand when nil).
func Generate(opts GeneratorOptions, r io.Reader) (string, error) {
	if opts.Length < 1 {
		return "", opError("generate", KindInvalidInput, errors.New("length must be at least 1"))
	}
	if r == nil {
		r = rand.Reader
	}
	palette := lowerChars
	if opts.Upper {
		palette += upperChars
	}
	if opts.Digits {
		palette += digitChars
	}
	if opts.Symbols {
		palette += symbolChars
	}

	max := big.NewInt(int64(len(palette)))
	out := make([]byte, opts.Length)
	for i := range out {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", opError("generate", KindIO, err)
		}
		out[i] = palette[n.Int64()]
	}
	return string(out), nil
}
