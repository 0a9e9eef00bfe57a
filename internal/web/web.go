// Package web holds the small HTTP helpers shared by the handlers: JSON
// responses, error payloads, request decoding and path confinement.
package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

func JSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.MarshalEncode(jsontext.NewEncoder(w), data, json.Deterministic(true)); err != nil {
		slog.Error("json encode", "err", err)
	}
}

type errorBody struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable,omitzero"`
	Details   map[string]any `json:"details,omitempty"`
}

func Error(w http.ResponseWriter, code int, err error) {
	ErrorCode(w, code, "error", err.Error(), false, nil)
}

func ErrorCode(w http.ResponseWriter, status int, code, message string, retryable bool, details map[string]any) {
	JSON(w, status, errorBody{Error: message, Code: code, Retryable: retryable, Details: details})
}

// ErrBodyTooLarge is returned by DecodeJSON when the body exceeds its limit.
var ErrBodyTooLarge = errors.New("request body too large")

// DecodeJSON reads a JSON body of at most limit bytes into v. Member names
// are matched case-insensitively.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if r.ContentLength > limit {
		return ErrBodyTooLarge
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	err := json.UnmarshalRead(body, v, json.MatchCaseInsensitiveNames(true))
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return ErrBodyTooLarge
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("empty or truncated body")
	}
	return fmt.Errorf("decode: %w", err)
}

// StatusWriter wraps ResponseWriter to capture the status code and the
// number of body bytes written.
type StatusWriter struct {
	http.ResponseWriter
	Code  int
	Bytes int64
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.Bytes += int64(n)
	return n, err
}

func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
