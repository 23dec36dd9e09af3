package secret

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// NlaSamFile is the credential store backing static-mode NLA (§4.10):
// one line per account, colon-separated, with the password stored as a
// salted SHA-256 hex digest rather than plaintext or a reversible
// encoding:
//
//	# username:salt:sha256(salt || password)
//	alice:9f2b1c4d:2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae
type NlaSamFile struct {
	entries map[string]samEntry
}

type samEntry struct {
	salt string
	hash string
}

// LoadNlaSamFile parses the SAM file at path.
func LoadNlaSamFile(path string) (*NlaSamFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open NLA SAM file: %w", err)
	}
	defer f.Close()

	sam := &NlaSamFile{entries: make(map[string]samEntry)}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("NLA SAM file %s:%d: expected username:salt:hash, got %d fields", path, lineNo, len(parts))
		}
		username, salt, hash := parts[0], parts[1], parts[2]
		if username == "" {
			return nil, fmt.Errorf("NLA SAM file %s:%d: empty username", path, lineNo)
		}
		sam.entries[username] = samEntry{salt: salt, hash: strings.ToLower(hash)}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read NLA SAM file: %w", err)
	}

	return sam, nil
}

// Authenticate checks username/password against the loaded SAM entries.
// It always computes a hash even for an unknown username, so lookup
// failure and hash mismatch take the same amount of time.
func (s *NlaSamFile) Authenticate(username, password string) bool {
	entry, ok := s.entries[username]
	if !ok {
		// Hash against a fixed salt to keep the timing profile uniform,
		// then fail regardless of the computed digest.
		hashPassword("", password)
		return false
	}
	want, err := hex.DecodeString(entry.hash)
	if err != nil {
		return false
	}
	got := hashPassword(entry.salt, password)
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}

func hashPassword(salt, password string) [32]byte {
	return sha256.Sum256([]byte(salt + password))
}

// HashForSamFile returns the hex digest for a SAM file line's hash field
// (sha256(salt || password)); the caller writes the salt field itself.
// Used by tooling that provisions new accounts.
func HashForSamFile(salt, password string) string {
	sum := hashPassword(salt, password)
	return hex.EncodeToString(sum[:])
}
