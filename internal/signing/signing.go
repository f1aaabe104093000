// Package signing implements HMAC-SHA256 request signatures.
//
// A signature covers the canonical JSON encoding of the object
// {"payload": <payload>, "timestamp": <unix millis>} keyed with a shared secret
// and is transported as lowercase hex. Canonical JSON sorts object keys at every
// depth, carries no insignificant whitespace, and does not HTML-escape.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxSkew is the largest accepted distance between a request timestamp and the
// verifier's clock, in either direction.
const MaxSkew = 5 * time.Minute

var (
	// ErrInvalidRequest is the only error surfaced to clients; it deliberately
	// does not distinguish a stale timestamp from a bad signature.
	ErrInvalidRequest = errors.New("invalid request")

	ErrTimestampExpired = errors.New("request timestamp outside accepted window")
	ErrSignatureInvalid = errors.New("request signature mismatch")
	ErrEmptySecret      = errors.New("signing secret is empty")
)

type envelope struct {
	Payload   any   `json:"payload"`
	Timestamp int64 `json:"timestamp"`
}

// Canonicalize returns the canonical JSON encoding of v.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	// encoding/json writes map keys in sorted order, so re-encoding the
	// generic tree yields a stable byte sequence.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode canonical payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func mac(payload any, timestamp int64, secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	msg, err := Canonicalize(envelope{Payload: payload, Timestamp: timestamp})
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return h.Sum(nil), nil
}

// Sign returns the hex-encoded HMAC-SHA256 signature of payload at timestamp.
func Sign(payload any, timestamp int64, secret string) (string, error) {
	sum, err := mac(payload, timestamp, secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Verify reports whether signature is exactly the lowercase hex signature of
// payload at timestamp. The comparison runs in constant time over the hex
// text, so any other spelling of the same bytes is rejected. A payload that
// cannot be encoded yields false.
func Verify(payload any, timestamp int64, signature, secret string) bool {
	if len(signature) != hex.EncodedLen(sha256.Size) {
		return false
	}
	sum, err := mac(payload, timestamp, secret)
	if err != nil {
		return false
	}
	want := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(want, sum)
	return hmac.Equal([]byte(signature), want)
}

// IsTimestampValid reports whether timestamp (unix millis) lies strictly
// within MaxSkew of the current time.
func IsTimestampValid(timestamp int64) bool {
	return IsTimestampValidAt(timestamp, time.Now())
}

// IsTimestampValidAt is IsTimestampValid against an explicit clock. The
// window is checked against its bounds so extreme timestamps cannot wrap.
func IsTimestampValidAt(timestamp int64, now time.Time) bool {
	n, skew := now.UnixMilli(), MaxSkew.Milliseconds()
	return timestamp > n-skew && timestamp < n+skew
}

// VerifyRequest checks the timestamp window and the signature. The returned
// error always matches ErrInvalidRequest; the specific cause is wrapped for
// server-side logging only.
func VerifyRequest(payload any, timestamp int64, signature, secret string, now time.Time) error {
	if !IsTimestampValidAt(timestamp, now) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrTimestampExpired)
	}
	if !Verify(payload, timestamp, signature, secret) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrSignatureInvalid)
	}
	return nil
}
