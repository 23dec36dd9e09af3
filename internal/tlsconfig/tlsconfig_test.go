package tlsconfig

import "testing"

func TestLoadRequiresBothPaths(t *testing.T) {
	if _, err := Load("", "key.pem"); err == nil {
		t.Fatal("expected error when certificate path is empty")
	}
	if _, err := Load("cert.pem", ""); err == nil {
		t.Fatal("expected error when key path is empty")
	}
}

func TestNeedsRenewal(t *testing.T) {
	if NeedsRenewal("", "2099-01-01T00:00:00Z") {
		t.Fatal("empty issued timestamp should not need renewal")
	}
	if NeedsRenewal("2020-01-01T00:00:00Z", "2020-01-02T00:00:00Z") == false {
		t.Fatal("a certificate long past its window should need renewal")
	}
}
