package exchange

import (
	"encoding/base64"
	"testing"
	"time"
)

func testCreds() Credentials {
	return Credentials{
		APIKey: "test-key",
		Secret: base64.URLEncoding.EncodeToString([]byte("super-secret")),
	}
}

func TestHeadersContainSignature(t *testing.T) {
	t.Parallel()
	auth := NewAuth(testCreds())

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	headers, err := auth.Headers("POST", "/orders", `{"symbol":"BTC/USDT"}`, now)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if headers["X-API-KEY"] != "test-key" {
		t.Errorf("api key header = %q", headers["X-API-KEY"])
	}
	if headers["X-API-TIMESTAMP"] != "1709294400" {
		t.Errorf("timestamp = %q, want 1709294400", headers["X-API-TIMESTAMP"])
	}
	if headers["X-API-SIGNATURE"] == "" {
		t.Error("signature empty")
	}
}

func TestSignatureDeterministic(t *testing.T) {
	t.Parallel()
	auth := NewAuth(testCreds())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a, _ := auth.Headers("POST", "/orders", "body", now)
	b, _ := auth.Headers("POST", "/orders", "body", now)
	if a["X-API-SIGNATURE"] != b["X-API-SIGNATURE"] {
		t.Error("same inputs produced different signatures")
	}

	c, _ := auth.Headers("POST", "/orders", "different", now)
	if a["X-API-SIGNATURE"] == c["X-API-SIGNATURE"] {
		t.Error("different bodies produced identical signatures")
	}
}

func TestSecretEncodingVariants(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	encodings := map[string]string{
		"url":     base64.URLEncoding.EncodeToString([]byte("secret")),
		"raw-url": base64.RawURLEncoding.EncodeToString([]byte("secret")),
		"std":     base64.StdEncoding.EncodeToString([]byte("secret")),
	}
	for name, secret := range encodings {
		auth := NewAuth(Credentials{APIKey: "k", Secret: secret})
		if _, err := auth.Headers("GET", "/x", "", now); err != nil {
			t.Errorf("%s-encoded secret rejected: %v", name, err)
		}
	}
}

func TestHasCredentials(t *testing.T) {
	t.Parallel()
	if NewAuth(Credentials{}).HasCredentials() {
		t.Error("empty credentials reported present")
	}
	if !NewAuth(testCreds()).HasCredentials() {
		t.Error("configured credentials reported absent")
	}
}
