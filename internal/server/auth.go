package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/metrics"
)

// ingestAuth authenticates inbound sender requests. A request is accepted
// when the HMAC-SHA256 signature over the raw body (X-Signature header, hex,
// optional "sha256=" prefix) or the bearer token validates. With neither
// secret configured the boundary is open; Load warns about that at startup.
//
// The body is buffered here so the signature covers exactly the bytes the
// normalizer will see, then restored for the next handler.
func (s *Server) ingestAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ingest := s.cfg.Ingest

		r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.rejectIngest(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !ingest.AuthConfigured() {
			next.ServeHTTP(w, r)
			return
		}

		if ingest.HMACSecret != "" && validSignature(r.Header.Get("X-Signature"), body, ingest.HMACSecret) {
			next.ServeHTTP(w, r)
			return
		}
		if ingest.BearerToken != "" && validBearer(r.Header.Get("Authorization"), ingest.BearerToken) {
			next.ServeHTTP(w, r)
			return
		}

		s.rejectIngest(w, r, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
	})
}

func (s *Server) rejectIngest(w http.ResponseWriter, r *http.Request, status int, reason, msg string) {
	sender := chi.URLParam(r, "sender")

	metrics.IngestRejectedTotal.WithLabelValues(reason).Inc()
	s.bus.Emit(events.SignalRejected, "server", map[string]interface{}{
		"sender": sender,
		"reason": reason,
	})
	s.log.Warn().
		Str("sender", sender).
		Str("reason", reason).
		Msg("Signal rejected at the boundary")

	s.writeError(w, status, msg)
}

// validSignature checks an HMAC-SHA256 hex signature over body.
func validSignature(header string, body []byte, secret string) bool {
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if sig == "" {
		return false
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// validBearer checks an Authorization: Bearer header in constant time.
func validBearer(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1
}
