package id

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultLength = 8
	hexAlphabet   = "0123456789abcdef"
)

// Generator produces short, URL-safe hexadecimal identifiers.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. If length <= 0, a sane default is used.
// Each character carries 4 bits, so the default yields 4 random bytes.
func New(length int) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	return &Generator{length: length}
}

// Generate returns a new identifier. Uniqueness is left to the store.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(hexAlphabet, g.length)
}
