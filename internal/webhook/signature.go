package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the scheme tag the provider puts in front of the hex digest.
const signaturePrefix = "sha256="

// VerifySignature checks the X-Hub-Signature-256 header against the raw body
// using HMAC-SHA256 with constant-time comparison.
//
// An empty secret disables verification (explicit insecure mode for local
// development); callers are expected to log loudly when running that way.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	got := signatureHeader[len(signaturePrefix):]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(got), []byte(want))
}

// VerifyHandshake implements the GET subscription handshake. It returns the
// challenge to echo and true iff mode is the literal "subscribe" and the
// presented token matches the configured one.
func VerifyHandshake(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != "subscribe" || expectedToken == "" || token != expectedToken {
		return "", false
	}
	return challenge, true
}
