package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// statusFor maps an application error code to its HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeForeignKey:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrCodeCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

// statusClientClosed is nginx's convention for a request abandoned by the client.
const statusClientClosed = 499

// writeServiceError renders err from a service call. Internal failures are logged and
// their message is replaced so storage details do not leak to clients.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := apperrors.GetCode(err)
	switch {
	case code != "":
	case errors.Is(err, context.Canceled):
		code = apperrors.ErrCodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = apperrors.ErrCodeTimeout
	default:
		code = apperrors.ErrCodeInternal
	}

	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		err = errors.New(http.StatusText(status))
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}
