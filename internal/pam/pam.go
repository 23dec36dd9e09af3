// Package pam names the boundary to PAM authentication, explicitly out
// of scope per §1 ("PAM authentication" is an external collaborator
// specified only by its interface, §6's "PAM service name"). No PAM
// binding exists anywhere in the example pack to ground a concrete
// implementation on, so this package stops at the interface the rest
// of the server needs — the same treatment internal/rdplib gives the
// RDP protocol library — rather than hand-rolling cgo against libpam
// with nothing in the corpus to imitate.
package pam

import "github.com/grd-project/grd/internal/grderr"

// Authenticator validates a username/password pair against a named PAM
// service (§4.10's `pam_service` config field) and performs the
// account-management checks PAM distinguishes from authentication
// proper (expired password, locked account, time-of-day restriction).
type Authenticator interface {
	Authenticate(service, username, password string) error
	AccountManagement(service, username string) error
}

// unavailable is returned by NewAuthenticator until a real PAM binding
// is wired in; every call fails closed with KindNotSupported rather
// than silently succeeding.
type unavailable struct{}

func (unavailable) Authenticate(service, username, password string) error {
	return grderr.NotSupported("pam: no PAM binding configured for service %q", service)
}

func (unavailable) AccountManagement(service, username string) error {
	return grderr.NotSupported("pam: no PAM binding configured for service %q", service)
}

// NewAuthenticator returns the PAM collaborator. Callers needing real
// authentication must supply their own Authenticator backed by a PAM
// binding; this default fails closed.
func NewAuthenticator() Authenticator {
	return unavailable{}
}
