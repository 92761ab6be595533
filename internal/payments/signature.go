package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ExpectedSignature returns the hex HMAC-SHA256 of "orderID|paymentID" keyed with secret.
func ExpectedSignature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature authenticates the (orderID, paymentID) pair. The comparison
// runs in constant time. An empty secret or signature never verifies.
func VerifySignature(orderID, paymentID, signature, secret string) bool {
	if secret == "" || signature == "" || orderID == "" || paymentID == "" {
		return false
	}
	expected := ExpectedSignature(orderID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
