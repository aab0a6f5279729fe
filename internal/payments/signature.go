package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureVerifier checks gateway payment signatures. The gateway signs the
// string "<orderReference>|<paymentReference>" with HMAC-SHA256 under the key
// secret and transmits the digest hex-encoded.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier constructs a verifier bound to the gateway key secret.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signature verifier: secret is required")
	}
	return &SignatureVerifier{secret: []byte(secret)}, nil
}

// Sign computes the expected hex signature for the given references.
func (v *SignatureVerifier) Sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the expected digest for the given
// references. Comparison is constant time.
func (v *SignatureVerifier) Verify(orderRef, paymentRef, signature string) bool {
	if v == nil {
		return false
	}
	orderRef = strings.TrimSpace(orderRef)
	paymentRef = strings.TrimSpace(paymentRef)
	signature = strings.TrimSpace(signature)
	if orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	expected := v.Sign(orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
