package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials are the API key pair most venue REST APIs issue. The secret
// is base64-encoded; venues disagree on the variant, so decoding tries
// each.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Auth signs REST requests with HMAC-SHA256 over
// timestamp + method + path + body, the header scheme shared by the
// venues this connector targets.
type Auth struct {
	creds Credentials
}

// NewAuth creates a signer for the given credentials.
func NewAuth(creds Credentials) *Auth {
	return &Auth{creds: creds}
}

// HasCredentials reports whether an API key is configured; public
// endpoints (kline reads) work without one.
func (a *Auth) HasCredentials() bool {
	return a.creds.APIKey != ""
}

// Headers builds the signed auth headers for one request.
func (a *Auth) Headers(method, path, body string, now time.Time) (map[string]string, error) {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig, err := a.sign(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}
	headers := map[string]string{
		"X-API-KEY":       a.creds.APIKey,
		"X-API-SIGNATURE": sig,
		"X-API-TIMESTAMP": timestamp,
	}
	if a.creds.Passphrase != "" {
		headers["X-API-PASSPHRASE"] = a.creds.Passphrase
	}
	return headers, nil
}

func (a *Auth) sign(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
