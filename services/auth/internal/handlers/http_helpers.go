package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"outsy/services/auth/internal/apperr"
)

const maxBodyBytes = 1 << 20

type bodyKey struct{}

// captureBody buffers the request body so the error responder can log it.
func captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		_ = r.Body.Close()
		if err != nil {
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, raw)))
	})
}

func capturedBody(ctx context.Context) []byte {
	raw, _ := ctx.Value(bodyKey{}).([]byte)
	return raw
}

// decodeJSON decodes the body into dest. Unknown keys are ignored.
func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperr.BadRequest("request body required")
	}
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body required")
		}
		return apperr.BadRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

var redactedFields = map[string]bool{
	"password":     true,
	"refreshToken": true,
	"accessToken":  true,
	"token":        true,
}

// redactBody returns body as JSON with credential fields masked. Bodies that
// are not JSON objects are replaced wholesale.
func redactBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return json.RawMessage(`"[UNPARSEABLE]"`)
	}
	for k := range fields {
		if redactedFields[k] {
			fields[k] = "[REDACTED]"
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage(`"[UNPARSEABLE]"`)
	}
	return out
}
