// Package signature authenticates inbound interaction callbacks.
//
// The platform signs every callback with Ed25519 over the timestamp header
// concatenated with the raw request body. Verification must run on the exact
// bytes received; decoding or re-encoding the body first invalidates it.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/polisai/proxydrop/pkg/domain"
)

// Header names carrying the detached signature.
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// Verification failure reasons. Both are returned wrapped together with
// domain.ErrAuthenticationFailed.
var (
	ErrMissingHeaders    = errors.New("missing signature headers")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// ParsePublicKey decodes the hex-encoded application public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex: %v", domain.ErrConfigInvalid, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key has %d bytes, want %d", domain.ErrConfigInvalid, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Verify reports whether signature is a valid Ed25519 signature by key over
// timestamp||body. An empty signature or timestamp is always rejected.
func Verify(body []byte, signature, timestamp string, key ed25519.PublicKey) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	if len(key) != ed25519.PublicKeySize {
		return false
	}

	sig, ok := decodeSignature(signature)
	if !ok {
		return false
	}

	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)

	return ed25519.Verify(key, msg, sig)
}

// decodeSignature accepts hex (what the platform sends) and falls back to
// standard base64.
func decodeSignature(encoded string) ([]byte, bool) {
	if sig, err := hex.DecodeString(encoded); err == nil && len(sig) == ed25519.SignatureSize {
		return sig, true
	}
	if sig, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(sig) == ed25519.SignatureSize {
		return sig, true
	}
	return nil, false
}

// Verifier binds Verify to the configured application key.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier creates a Verifier for key.
func NewVerifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// VerifyRequest checks body against the signature headers in header. The
// returned error wraps domain.ErrAuthenticationFailed.
func (v *Verifier) VerifyRequest(body []byte, header http.Header) error {
	signature := header.Get(HeaderSignature)
	timestamp := header.Get(HeaderTimestamp)

	if signature == "" || timestamp == "" {
		return fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, ErrMissingHeaders)
	}
	if !Verify(body, signature, timestamp, v.key) {
		return fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, ErrSignatureMismatch)
	}
	return nil
}
