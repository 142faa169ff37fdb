package httppost

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureHeader carries the HMAC-SHA1 of the body, formatted "sha1=<hex>".
const SignatureHeader = "X-Signature"

// verifySignature checks header against the HMAC-SHA1 of body. Errors are
// generic so they do not leak which part failed.
func verifySignature(body []byte, header, secret string) error {
	if secret == "" || header == "" {
		return fmt.Errorf("event verification failed")
	}

	actual, err := hex.DecodeString(strings.TrimPrefix(header, "sha1="))
	if err != nil {
		return fmt.Errorf("event verification failed")
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), actual) != 1 {
		return fmt.Errorf("event verification failed")
	}
	return nil
}

// Sign returns the X-Signature value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}
