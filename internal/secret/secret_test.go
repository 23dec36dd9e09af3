package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecureStringRevealAndZero(t *testing.T) {
	s := New("hunter2")
	if s.Reveal() != "hunter2" {
		t.Fatalf("Reveal() = %q, want hunter2", s.Reveal())
	}
	if s.IsZeroed() {
		t.Fatal("freshly created SecureString should not be zeroed")
	}
	if s.String() != "[REDACTED]" {
		t.Fatalf("String() = %q, want [REDACTED]", s.String())
	}
	s.Zero()
	if !s.IsZeroed() {
		t.Fatal("expected IsZeroed() true after Zero()")
	}
	if s.Reveal() != "" {
		t.Fatal("Reveal() after Zero() should return empty string")
	}
	if s.String() != "[ZEROED]" {
		t.Fatalf("String() after Zero() = %q, want [ZEROED]", s.String())
	}
}

func TestSecureStringMarshalTextRedacts(t *testing.T) {
	s := New("secret-value")
	b, err := s.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error: %v", err)
	}
	if string(b) != "[REDACTED]" {
		t.Fatalf("MarshalText() = %q, want [REDACTED]", b)
	}
}

func TestLoadAuthTokenMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.ini")
	content := "[token]\nvalue = swordfish\nexpires = 2099-01-01T00:00:00Z\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	tok, err := LoadAuthToken(path)
	if err != nil {
		t.Fatalf("LoadAuthToken() error: %v", err)
	}
	if tok.Expired() {
		t.Fatal("token with future expiry should not be expired")
	}
	if !tok.Matches("swordfish") {
		t.Fatal("expected Matches() true for correct value")
	}
	if tok.Matches("wrong") {
		t.Fatal("expected Matches() false for incorrect value")
	}
}

func TestLoadAuthTokenExpired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.ini")
	content := "[token]\nvalue = old-secret\nexpires = 2000-01-01T00:00:00Z\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	tok, err := LoadAuthToken(path)
	if err != nil {
		t.Fatalf("LoadAuthToken() error: %v", err)
	}
	if !tok.Expired() {
		t.Fatal("token with past expiry should be expired")
	}
}

func TestLoadAuthTokenMissingValueErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.ini")
	if err := os.WriteFile(path, []byte("[token]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAuthToken(path); err == nil {
		t.Fatal("expected error for missing value")
	}
}

func TestNlaSamFileAuthenticate(t *testing.T) {
	salt := "9f2b1c4d"
	hash := HashForSamFile(salt, "hunter2")

	dir := t.TempDir()
	path := filepath.Join(dir, "sam.ini")
	content := "# comment\nalice:" + salt + ":" + hash + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	sam, err := LoadNlaSamFile(path)
	if err != nil {
		t.Fatalf("LoadNlaSamFile() error: %v", err)
	}
	if !sam.Authenticate("alice", "hunter2") {
		t.Fatal("expected Authenticate() true for correct password")
	}
	if sam.Authenticate("alice", "wrong") {
		t.Fatal("expected Authenticate() false for incorrect password")
	}
	if sam.Authenticate("bob", "hunter2") {
		t.Fatal("expected Authenticate() false for unknown username")
	}
}

func TestLoadNlaSamFileMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sam.ini")
	if err := os.WriteFile(path, []byte("not:enough\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadNlaSamFile(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
