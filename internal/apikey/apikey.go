// Package apikey creates and checks the bearer keys API and CLI callers use.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix starts every raw key.
	Prefix = "vc_"
	// PrefixLen is how much of a raw key is stored in clear for lookup.
	PrefixLen = 8

	secretBytes = 24
)

// Scopes understood by the API.
const (
	ScopeRead  = "tasks:read"
	ScopeWrite = "tasks:write"
	ScopeAdmin = "admin"
)

// ValidScope reports whether scope is one the API understands.
func ValidScope(scope string) bool {
	switch scope {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return true
	}
	return false
}

// Generated is a new key. Raw is shown to the caller once and never stored.
type Generated struct {
	Raw       string
	KeyPrefix string
	Hash      string
}

// Generate creates a random key and its bcrypt hash.
func Generate() (Generated, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Generated{}, fmt.Errorf("read random: %w", err)
	}
	raw := Prefix + hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("hash key: %w", err)
	}
	return Generated{Raw: raw, KeyPrefix: LookupPrefix(raw), Hash: string(hash)}, nil
}

// LookupPrefix returns the stored lookup prefix of raw, or "" when raw is too
// short to be a key.
func LookupPrefix(raw string) string {
	if len(raw) < PrefixLen {
		return ""
	}
	return raw[:PrefixLen]
}

// Matches reports whether raw hashes to hash.
func Matches(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// ParseScopes splits a comma separated scope list and drops blanks.
func ParseScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
