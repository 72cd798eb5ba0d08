package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DefaultPrefix is the product tag prepended to every secret
const DefaultPrefix = "ather"

// secretBytes is the entropy of the random suffix. 32 bytes hex-encode to
// 64 characters, well past the brute-force floor.
const secretBytes = 32

// Generator produces bearer secrets of the form <prefix>_<64 hex chars>.
// The random source is injectable so tests can narrow the entropy space;
// production always uses crypto/rand.
type Generator struct {
	prefix string
	rand   io.Reader
}

// NewGenerator creates a generator with the given prefix and crypto/rand
// as the entropy source. An empty prefix falls back to DefaultPrefix.
func NewGenerator(prefix string) *Generator {
	return NewGeneratorWithSource(prefix, rand.Reader)
}

// NewGeneratorWithSource creates a generator with an explicit entropy source
func NewGeneratorWithSource(prefix string, src io.Reader) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{prefix: prefix, rand: src}
}

// Prefix returns the configured secret prefix
func (g *Generator) Prefix() string {
	return g.prefix
}

// Secret produces a new bearer secret. It fails closed: if the entropy
// source cannot supply a full read, an error is returned and no partial
// or weak secret is ever produced.
func (g *Generator) Secret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return g.prefix + "_" + hex.EncodeToString(buf), nil
}

// HashSecret returns the SHA-256 hex digest of a secret. Used as the cache
// key so raw secrets never appear in Redis.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
