package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/httputil"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

// =============================================================================
// ERROR SANITIZER
// Internal errors (database details, file paths) are not leaked to API
// consumers. 5xx errors return generic safe messages while the full error is
// logged server-side. The batch envelope is the one exception: operators
// need the store message and remediation hint to fix a failing job.
// =============================================================================

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error, publicMsg string) string {
	if internalErr != nil {
		logger.Error(publicMsg, "status", code, "error", internalErr.Error())
	}
	return publicMsg
}

// respondSafeError logs the internal error and sends a sanitized JSON error.
func respondSafeError(w http.ResponseWriter, code int, internalErr error) {
	msg := sanitizedError(code, internalErr, safeErrorMessage(code, internalErr))
	httputil.Error(w, code, msg)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// 4xx errors describe user input and are returned as is.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	var cfgErr *domain.ConfigError
	if errors.As(internalErr, &cfgErr) {
		return "Staging tables are misconfigured: " + cfgErr.Hint
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	case strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "access denied"):
		return "Access denied"

	default:
		return "An internal error occurred"
	}
}

// batchStatus picks the HTTP status for a batch invocation.
func batchStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, staging.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, staging.ErrBatchInProgress),
		errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, staging.ErrOtherNotConfigured):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
