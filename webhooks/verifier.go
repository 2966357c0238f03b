package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-github-app/core"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	SignaturePrefix = "sha256="
)

// Verification reports the outcome of a signature check. Skipped is true
// only when no secret is configured, so hosts can log that the check was
// bypassed rather than passed.
type Verification struct {
	Skipped bool
}

// SignatureVerifier checks the HMAC-SHA256 digest carried on a delivery
// against a shared secret. The zero value skips verification.
type SignatureVerifier struct {
	Secret []byte
	// Header and Prefix default to the platform's signature contract and
	// exist for tests and alternate deployments.
	Header string
	Prefix string
}

func NewSignatureVerifier(secret []byte) *SignatureVerifier {
	return &SignatureVerifier{
		Secret: secret,
		Header: SignatureHeader,
		Prefix: SignaturePrefix,
	}
}

// Verify checks the delivery signature over the raw body. With no secret
// configured it returns a skipped verification and no error. With a secret,
// a missing, malformed, or mismatched signature is a verification failure.
func (v *SignatureVerifier) Verify(_ context.Context, req core.InboundRequest) (Verification, error) {
	if v == nil || len(v.Secret) == 0 {
		return Verification{Skipped: true}, nil
	}

	header := strings.TrimSpace(headerValue(req.Headers, v.header()))
	if header == "" {
		return Verification{}, verificationError(
			fmt.Sprintf("webhooks: %s signature header is required", v.header()),
			map[string]any{"delivery_id": req.DeliveryID},
		)
	}
	prefix := v.prefix()
	if !strings.HasPrefix(header, prefix) {
		return Verification{}, verificationError(
			fmt.Sprintf("webhooks: signature must carry the %q prefix", prefix),
			map[string]any{"delivery_id": req.DeliveryID},
		)
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if signature == "" {
		return Verification{}, verificationError(
			"webhooks: signature value is required",
			map[string]any{"delivery_id": req.DeliveryID},
		)
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return Verification{}, verificationWrapError(
			err,
			"webhooks: decode hex signature",
			map[string]any{"delivery_id": req.DeliveryID},
		)
	}

	mac := hmac.New(sha256.New, v.Secret)
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return Verification{}, verificationError(
			"webhooks: signature verification failed",
			map[string]any{"delivery_id": req.DeliveryID},
		)
	}
	return Verification{}, nil
}

// Sign computes the signature header value for a body. Intended for tests
// and for hosts that relay deliveries onward.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (v *SignatureVerifier) header() string {
	if v != nil && strings.TrimSpace(v.Header) != "" {
		return strings.TrimSpace(v.Header)
	}
	return SignatureHeader
}

func (v *SignatureVerifier) prefix() string {
	if v != nil && strings.TrimSpace(v.Prefix) != "" {
		return strings.TrimSpace(v.Prefix)
	}
	return SignaturePrefix
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
