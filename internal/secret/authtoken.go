package secret

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"
)

// AuthToken is the pre-shared secret the system daemon presents to the
// per-user worker (and vice versa) when validating a handover: it proves
// the peer holding a routing token's UnixFD actually came from the
// daemon, not from an attacker racing the handover socket. It is loaded
// from a small INI file:
//
//	[token]
//	value = <opaque secret>
//	expires = 2026-12-31T23:59:59Z
type AuthToken struct {
	value   *SecureString
	expires time.Time
}

// LoadAuthToken reads an INI-formatted token file from path.
func LoadAuthToken(path string) (*AuthToken, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth token file: %w", err)
	}
	defer f.Close()

	var value, expires string
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}
		if section != "token" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch k {
		case "value":
			value = v
		case "expires":
			expires = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth token file: %w", err)
	}
	if value == "" {
		return nil, fmt.Errorf("auth token file %s has no [token] value", path)
	}

	tok := &AuthToken{value: New(value)}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return nil, fmt.Errorf("auth token file %s: invalid expires timestamp: %w", path, err)
		}
		tok.expires = t
	}
	return tok, nil
}

// Expired reports whether the token has passed its expiry. A token with
// no expiry set never expires.
func (t *AuthToken) Expired() bool {
	if t.expires.IsZero() {
		return false
	}
	return time.Now().After(t.expires)
}

// Matches does a constant-time comparison against a presented value,
// hashing both sides first so the comparison length leaks nothing about
// the secret's length.
func (t *AuthToken) Matches(presented string) bool {
	if t == nil || t.value.IsZeroed() {
		return false
	}
	want := sha256.Sum256([]byte(t.value.Reveal()))
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Zero releases the underlying secret.
func (t *AuthToken) Zero() {
	if t == nil {
		return
	}
	t.value.Zero()
}
