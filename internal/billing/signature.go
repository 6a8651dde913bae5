package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the provider's signature.
const SignatureHeader = "Webhook-Signature"

// maxTimestampSkew bounds how old a signed timestamp may be, limiting
// replay of captured payloads.
const maxTimestampSkew = 5 * time.Minute

var (
	errMissingSignature = errors.New("missing signature header")
	errBadSignature     = errors.New("signature mismatch")
	errStaleTimestamp   = errors.New("signed timestamp outside tolerance")
)

// signPayload computes the v1 scheme: hex HMAC-SHA256 of "<t>.<body>".
func signPayload(t int64, body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", t)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a "t=<unix>,v1=<hex>" header against the body.
// Comparison is constant-time; any v1 candidate matching is accepted so
// secrets can be rotated.
func verifySignature(header string, body, secret []byte, now time.Time) error {
	if header == "" {
		return errMissingSignature
	}

	var timestamp int64 = -1
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp: %w", err)
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return errMissingSignature
	}
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > maxTimestampSkew || skew < -maxTimestampSkew {
		return errStaleTimestamp
	}

	expected := signPayload(timestamp, body, secret)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return errBadSignature
}
