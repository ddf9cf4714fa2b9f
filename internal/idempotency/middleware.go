package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 255
	maxBodyBytes   = 1 << 20
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// fingerprint identifies a request by method, path and body.
func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// Middleware replays the stored response when a request repeats an
// Idempotency-Key. Requests without the header pass through. Server errors
// release the key so the client can retry.
func Middleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				respondWithError(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				respondWithError(w, http.StatusBadRequest, "Failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fp := fingerprint(r, body)
			ctx := r.Context()

			existing, claimed, err := store.Begin(ctx, key, fp)
			if err != nil {
				if errors.Is(err, ErrInProgress) {
					respondWithError(w, http.StatusConflict, ErrInProgress.Error())
					return
				}
				log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency: failed to claim key, processing without it")
				next.ServeHTTP(w, r)
				return
			}

			if !claimed {
				switch {
				case existing.Fingerprint != fp:
					log.Warn().Str("idempotency_key", key).Msg("idempotency: key reused with a different payload")
					respondWithError(w, http.StatusUnprocessableEntity, ErrFingerprintMismatch.Error())
				case !existing.Completed:
					respondWithError(w, http.StatusConflict, ErrInProgress.Error())
				default:
					log.Info().Str("idempotency_key", key).Int("status", existing.StatusCode).Msg("idempotency: replaying stored response")
					if existing.ContentType != "" {
						w.Header().Set("Content-Type", existing.ContentType)
					}
					w.Header().Set(HeaderReplayed, "true")
					w.WriteHeader(existing.StatusCode)
					_, _ = w.Write(existing.Body)
				}
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Abort(ctx, key); err != nil {
					log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency: failed to release key")
				}
				return
			}

			err = store.Complete(ctx, key, Record{
				Fingerprint: fp,
				StatusCode:  status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency: failed to store response")
			}
		})
	}
}
