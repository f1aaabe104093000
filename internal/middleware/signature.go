package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/signing"
	"github.com/pablocopete/IBM/internal/telemetry"
)

const (
	// TimestampHeader carries the signing time in unix milliseconds.
	TimestampHeader = "X-Request-Timestamp"
	// SignatureHeader carries the hex HMAC-SHA256 signature.
	SignatureHeader = "X-Request-Signature"

	// MaxSignedBodyBytes bounds the body read for verification.
	MaxSignedBodyBytes = 1 << 20
)

// SignatureMiddleware rejects requests whose X-Request-Signature does not
// match the JSON body and X-Request-Timestamp under secret, or whose
// timestamp is more than signing.MaxSkew away from the server clock.
//
// All rejections produce the same 401 "Invalid request" body; the cause is
// only logged and counted in signature_failures_total. The body is restored
// so handlers can bind it again.
func SignatureMiddleware(secret string) gin.HandlerFunc {
	return signatureMiddleware(secret, time.Now)
}

func signatureMiddleware(secret string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		tsHeader := c.GetHeader(TimestampHeader)
		sig := c.GetHeader(SignatureHeader)
		if tsHeader == "" || sig == "" {
			rejectSignature(c, "missing_headers", errors.New("signature headers missing"))
			return
		}
		ts, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			rejectSignature(c, "malformed_timestamp", err)
			return
		}

		body, err := readBody(c.Writer, c.Request)
		if err != nil {
			rejectSignature(c, "malformed_body", err)
			return
		}
		payload, err := decodePayload(body)
		if err != nil {
			rejectSignature(c, "malformed_body", err)
			return
		}

		if err := signing.VerifyRequest(payload, ts, sig, secret, now()); err != nil {
			reason := "mismatch"
			if errors.Is(err, signing.ErrTimestampExpired) {
				reason = "expired"
			}
			rejectSignature(c, reason, err)
			return
		}

		c.Next()
	}
}

// readBody drains r.Body and replaces it with a fresh reader over the same
// bytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSignedBodyBytes))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// decodePayload parses the body as a single generic JSON value, keeping
// numbers verbatim so the canonical form matches what the client signed. An
// empty body is a nil payload.
func decodePayload(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return payload, nil
}

func rejectSignature(c *gin.Context, reason string, cause error) {
	telemetry.SignatureFailuresTotal.WithLabelValues(reason).Inc()
	slog.Debug("request signature rejected", "reason", reason, "path", c.Request.URL.Path, "error", cause)
	apierror.Respond(c, apierror.New(apierror.KindInvalidRequest, apierror.MsgInvalidRequest,
		errors.Join(signing.ErrInvalidRequest, cause)))
}
