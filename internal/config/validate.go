package config

import (
	"fmt"
	"strings"
)

// ValidationResult separates fatal errors, which abort startup, from
// warnings, which are logged but allow the server to run with a
// corrected value.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just
// want to display everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

var validEncodingModes = map[string]bool{
	"auto": true,
	"raw":  true,
	"rfx":  true,
}

var validAuthModes = map[string]bool{
	"static":   true,
	"delegate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

// ValidateTiered checks the config and returns fatal/warning errors found.
// Auto-correctable values (capture dimensions, encoding mode, server
// port) are clamped or reset to a safe default and reported as warnings;
// an invalid log level or format is reported as a warning and left as
// it is; structural misconfiguration that the
// server cannot run with safely (missing TLS material, a delegate auth
// mode without system-mode service, RDP-SSO without system-mode service)
// is fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.TLS.Certificate == "" || c.TLS.PrivateKey == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("tls.certificate and tls.private_key are both required"))
	}

	if c.Service.RDPSSO && !c.Service.System {
		r.Fatals = append(r.Fatals, fmt.Errorf("service.rdp_sso requires service.system"))
	}

	mode := strings.ToLower(c.Auth.Mode)
	if mode != "" && !validAuthModes[mode] {
		r.Fatals = append(r.Fatals, fmt.Errorf("auth.mode %q is not valid (use static or delegate)", c.Auth.Mode))
	}
	switch mode {
	case "static":
		if c.Auth.Username == "" || c.Auth.Password == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("auth.mode=static requires auth.username and auth.password"))
		}
	case "delegate":
		if !c.Service.System {
			r.Fatals = append(r.Fatals, fmt.Errorf("auth.mode=delegate requires service.system"))
		}
	}

	if c.Capture.Width <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("capture.width %d is not positive, clamping to 1920", c.Capture.Width))
		c.Capture.Width = 1920
	} else if c.Capture.Width > 7680 {
		r.Warnings = append(r.Warnings, fmt.Errorf("capture.width %d exceeds maximum 7680, clamping", c.Capture.Width))
		c.Capture.Width = 7680
	}
	if c.Capture.Height <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("capture.height %d is not positive, clamping to 1080", c.Capture.Height))
		c.Capture.Height = 1080
	} else if c.Capture.Height > 4320 {
		r.Warnings = append(r.Warnings, fmt.Errorf("capture.height %d exceeds maximum 4320, clamping", c.Capture.Height))
		c.Capture.Height = 4320
	}

	em := strings.ToLower(c.Encoding.Mode)
	if em != "" && !validEncodingModes[em] {
		r.Warnings = append(r.Warnings, fmt.Errorf("encoding.mode %q is not valid, defaulting to auto", c.Encoding.Mode))
		c.Encoding.Mode = "auto"
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		r.Warnings = append(r.Warnings, fmt.Errorf("server.port %d is out of range, defaulting to 3389", c.Server.Port))
		c.Server.Port = 3389
	}

	if c.Log.Level != "" && !validLogLevels[strings.ToLower(c.Log.Level)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log.level %q is not valid (use debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log.format %q is not valid (use text or json)", c.Log.Format))
	}

	return r
}
