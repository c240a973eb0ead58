// Package authmw provides HTTP middleware verifying Slack request
// signatures on interactivity callbacks.
package authmw

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxSkew bounds how old a signed request may be. Requests outside the
// window are rejected to limit replay.
const maxSkew = 5 * time.Minute

// SlackSignature returns middleware that validates Slack's v0 request
// signature: HMAC-SHA256 of "v0:<timestamp>:<body>" keyed by the signing
// secret, compared in constant time against the X-Slack-Signature header.
// The request body is restored for downstream handlers.
func SlackSignature(signingSecret string, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tsHeader := r.Header.Get("X-Slack-Request-Timestamp")
			sig := r.Header.Get("X-Slack-Signature")
			if tsHeader == "" || sig == "" {
				http.Error(w, `{"error":"missing slack signature headers"}`, http.StatusUnauthorized)
				return
			}

			ts, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				http.Error(w, `{"error":"malformed slack timestamp"}`, http.StatusUnauthorized)
				return
			}
			skew := now().Sub(time.Unix(ts, 0))
			if skew > maxSkew || skew < -maxSkew {
				http.Error(w, `{"error":"stale slack request"}`, http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, []byte(signingSecret))
			mac.Write([]byte("v0:" + tsHeader + ":"))
			mac.Write(body)
			expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(sig), []byte(expected)) {
				http.Error(w, `{"error":"invalid slack signature"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
