// Package secret holds credential material that must never land in a log
// line or a debug dump by accident: SecureString, the AuthToken used to
// trust handover requests between the listener and the system daemon, and
// the NLA SAM file backing static-mode credential checks.
package secret

// SecureString holds sensitive data with best-effort memory zeroing. Go's
// GC may copy or retain the backing array, so this is defense-in-depth,
// not a guarantee. Call Zero() in shutdown paths to overwrite the value
// in place once it's no longer needed.
type SecureString struct {
	data []byte
}

// New creates a SecureString from the given string.
func New(s string) *SecureString {
	b := make([]byte, len(s))
	copy(b, s)
	return &SecureString{data: b}
}

// Reveal returns the plaintext value. Callers should keep the returned
// string's lifetime as short as possible.
func (s *SecureString) Reveal() string {
	if s == nil || s.data == nil {
		return ""
	}
	return string(s.data)
}

// IsZeroed reports whether Zero has already been called.
func (s *SecureString) IsZeroed() bool {
	return s == nil || s.data == nil
}

// String implements fmt.Stringer with a redacted value so that accidental
// use in a format string or log call never leaks the secret.
func (s *SecureString) String() string {
	if s.IsZeroed() {
		return "[ZEROED]"
	}
	return "[REDACTED]"
}

// GoString mirrors String for "%#v" formatting.
func (s *SecureString) GoString() string {
	return s.String()
}

// MarshalText implements encoding.TextMarshaler with the same redaction,
// so SecureString fields embedded in a struct that gets JSON- or
// INI-marshaled for diagnostics don't leak either.
func (s *SecureString) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Zero overwrites the backing byte slice with zeros and releases it.
func (s *SecureString) Zero() {
	if s == nil || s.data == nil {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.data = nil
}
