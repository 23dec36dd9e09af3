// Package tlsconfig loads the server certificate/key pair used to secure
// the RDP TLS security layer negotiated during X.224 connection request
// (§6, TLS section of the config). Adapted from the mTLS client-cert
// loader the teacher uses for its own agent-to-server connection: the
// parsing and expiry logic is identical, only the direction (server vs
// client certificate) differs.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"
)

// Load reads a PEM certificate and private key from disk and returns a
// server-side tls.Config offering that single certificate.
func Load(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("tls certificate and private key paths are both required")
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read tls certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read tls private key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse tls key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ParseExpiry parses a certificate expiry timestamp in RFC 3339 or a
// bare-format ISO 8601 string, for operators tracking renewal windows in
// their own tooling around this server.
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", s)
	}
	return t, err
}

// NeedsRenewal reports whether the certificate has passed two-thirds of
// its validity window between issued and expires.
func NeedsRenewal(issuedStr, expiresStr string) bool {
	if issuedStr == "" || expiresStr == "" {
		return false
	}
	issued, err := ParseExpiry(issuedStr)
	if err != nil {
		return false
	}
	expires, err := ParseExpiry(expiresStr)
	if err != nil {
		return false
	}
	lifetime := expires.Sub(issued)
	threshold := issued.Add(lifetime * 2 / 3)
	return time.Now().After(threshold)
}
