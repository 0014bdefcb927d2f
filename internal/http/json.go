package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxJSONBody caps request bodies on the job and worker JSON endpoints.
const maxJSONBody = 1 << 20

// DecodeJSON reads exactly one JSON value from the body into dst, rejecting unknown
// fields. On failure it writes a 400 (413 when the body is too large) and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("request body must contain a single JSON value")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, ErrorParams{
			Code:    http.StatusRequestEntityTooLarge,
			ErrCode: "body_too_large",
			Err:     fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit),
		})
	case errors.Is(err, io.EOF):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: errors.New("request body is empty")})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
	}
	return false
}

// WriteJSON encodes v before touching w so an encoding failure still yields a clean 500.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// ErrorParams describes an error response.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes {"error": ErrCode, "message": Err} with status Code.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	msg := http.StatusText(p.Code)
	if p.Err != nil {
		msg = p.Err.Error()
	}
	WriteJSON(w, p.Code, errorBody{Error: p.ErrCode, Message: msg})
}
