package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.TLS.Certificate = "/etc/grd/cert.pem"
	cfg.TLS.PrivateKey = "/etc/grd/key.pem"
	cfg.Auth.Username = "alice"
	cfg.Auth.Password = "hunter2"
	return cfg
}

func TestValidateTieredMissingTLSIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.TLS.Certificate = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("missing tls certificate should be fatal")
	}
}

func TestValidateTieredRDPSSOWithoutSystemIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Service.RDPSSO = true
	cfg.Service.System = false
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("rdp_sso without system mode should be fatal")
	}
}

func TestValidateTieredDelegateAuthWithoutSystemIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "delegate"
	cfg.Service.System = false
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("delegate auth without system mode should be fatal")
	}
}

func TestValidateTieredDelegateAuthWithSystemIsValid(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "delegate"
	cfg.Service.System = true
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("delegate auth with system mode should validate: %v", result.Fatals)
	}
}

func TestValidateTieredStaticAuthMissingCredentialsIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "static"
	cfg.Auth.Password = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("static auth without password should be fatal")
	}
}

func TestValidateTieredCaptureDimensionClampingIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Capture.Width = 0
	cfg.Capture.Height = -5
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped dimensions should be warnings, not fatal: %v", result.Fatals)
	}
	if cfg.Capture.Width != 1920 || cfg.Capture.Height != 1080 {
		t.Fatalf("dimensions not clamped to defaults: %dx%d", cfg.Capture.Width, cfg.Capture.Height)
	}
	if len(result.Warnings) < 2 {
		t.Fatalf("expected 2 warnings, got %d", len(result.Warnings))
	}
}

func TestValidateTieredUnknownEncodingModeIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Encoding.Mode = "bogus"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown encoding mode should not be fatal")
	}
	if cfg.Encoding.Mode != "auto" {
		t.Fatalf("encoding mode not reset to auto, got %q", cfg.Encoding.Mode)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, errString("fatal"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := validConfig()
	cfg.TLS.Certificate = ""   // fatal
	cfg.Log.Level = "verbose"  // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2", len(all))
	}
}

func TestValidConfigHasNoFatals(t *testing.T) {
	cfg := validConfig()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestValidateTieredInvalidAuthModeIsFatal(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "bogus"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid auth mode should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "not valid") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected auth mode validation error")
	}
}
