package signal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Authenticator checks that an alert was sent by the configured charting account
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator; an empty secret disables checks
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// VerifySecret compares a body-supplied shared secret in constant time
func (a *Authenticator) VerifySecret(provided string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), a.secret) == 1
}

// VerifySignature checks a hex HMAC-SHA256 of body, optionally prefixed with "sha256="
func (a *Authenticator) VerifySignature(body []byte, signature string) bool {
	if !a.Enabled() {
		return true
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(a.secret, body))
}

// Authenticate accepts either a valid signature header or a matching body secret
func (a *Authenticator) Authenticate(body []byte, signatureHeader, bodySecret string) bool {
	if !a.Enabled() {
		return true
	}
	if signatureHeader != "" {
		return a.VerifySignature(body, signatureHeader)
	}
	return bodySecret != "" && a.VerifySecret(bodySecret)
}

// Sign returns the raw HMAC-SHA256 of body under secret
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
