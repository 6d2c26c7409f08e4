package biz

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- legacy senders only, selected explicitly by config
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"HookGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// signaturePrefixLen is how much of a signature may appear in logs and metadata.
const signaturePrefixLen = 8

// HashFunc returns the hash constructor of a configured algorithm name.
func HashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha1":
		return sha1.New, nil
	}
	return nil, fmt.Errorf("unsupported signature algorithm %q", algorithm)
}

// ComputeSignature returns hex(HMAC(secret, timestamp + "." + body)).
func ComputeSignature(newHash func() hash.Hash, secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(newHash, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RedactSignature keeps a short prefix of sig for correlation.
func RedactSignature(sig string) string {
	if len(sig) <= signaturePrefixLen {
		return strings.Repeat("*", len(sig))
	}
	return sig[:signaturePrefixLen] + "..."
}

// SignatureVerifier authenticates request bodies with a shared HMAC secret.
type SignatureVerifier struct {
	secret    []byte
	newHash   func() hash.Hash
	algorithm string
	macSize   int
	// skip is the development bypass for an unset secret, never set in production.
	skip   bool
	logger *log.Helper
}

// NewSignatureVerifier creates a verifier from the signature settings of c.
// An unknown algorithm is a configuration error.
func NewSignatureVerifier(c *conf.Gate, logger log.Logger) (*SignatureVerifier, error) {
	helper := log.NewHelper(log.With(logger, "module", "biz/signature"))
	v := &SignatureVerifier{logger: helper}

	var sc conf.Signature
	if c != nil && c.Signature != nil {
		sc = *c.Signature
	}
	newHash, err := HashFunc(sc.Algorithm)
	if err != nil {
		return nil, err
	}
	v.newHash = newHash
	v.macSize = newHash().Size()
	v.algorithm = strings.ToLower(sc.Algorithm)
	if v.algorithm == "" {
		v.algorithm = "sha256"
	}
	v.secret = []byte(sc.Secret)

	if sc.DevSkipVerification && len(v.secret) == 0 {
		if c.IsProduction() {
			helper.Warn("gate.signature.dev_skip_verification ignored in production")
		} else {
			v.skip = true
			helper.Warnw("msg", "signature verification bypass active", "environment", c.Environment)
		}
	}
	return v, nil
}

// Verify checks signatureHeader against the HMAC of timestampHeader and rawBody.
//
// Non-hex signatures and signatures of the wrong length are rejected before any
// comparison; the final comparison is constant-time.
func (v *SignatureVerifier) Verify(signatureHeader, timestampHeader string, rawBody []byte) ValidationOutcome {
	if len(v.secret) == 0 {
		if v.skip {
			return passed(map[string]any{"bypass": "dev_skip_verification"})
		}
		return failed(ReasonSecretMissing, nil)
	}

	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return failed(ReasonSignatureMissing, nil)
	}
	meta := map[string]any{
		"algorithm":        v.algorithm,
		"signature_prefix": RedactSignature(sig),
	}

	given, err := hex.DecodeString(sig)
	if err != nil {
		return failed(ReasonSignatureNotHex, meta)
	}
	if len(given) != v.macSize {
		meta["expected_length"] = v.macSize * 2
		meta["actual_length"] = len(sig)
		return failed(ReasonSignatureLength, meta)
	}

	mac := hmac.New(v.newHash, v.secret)
	mac.Write([]byte(timestampHeader))
	mac.Write([]byte{'.'})
	mac.Write(rawBody)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return failed(ReasonSignatureInvalid, meta)
	}
	return passed(meta)
}
