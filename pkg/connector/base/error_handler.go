package base

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tributary/pkg/errors"
)

const detailRetryAfter = "retry_after"

// StatusError maps an HTTP error status onto the error taxonomy. The response
// body, truncated, becomes the message detail.
func StatusError(status int, body []byte) *errors.Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	var errType errors.ErrorType
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = errors.ErrorTypeAuthentication
	case status == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		errType = errors.ErrorTypeTimeout
	case status == http.StatusConflict:
		errType = errors.ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case status >= http.StatusInternalServerError:
		errType = errors.ErrorTypeConnection
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		errType = errors.ErrorTypeQuery
	default:
		errType = errors.ErrorTypeInternal
	}

	return errors.Newf(errType, "API returned %d %s", status, http.StatusText(status)).
		WithDetail("status", status).
		WithDetail("body", msg)
}

// IsAuthFailure reports whether err is an authentication error
func IsAuthFailure(err error) bool {
	return errors.HasType(err, errors.ErrorTypeAuthentication)
}

// Category names the error class for logs
func Category(err error) string {
	if err == nil {
		return "none"
	}
	for _, t := range []errors.ErrorType{
		errors.ErrorTypePartial,
		errors.ErrorTypeCapped,
		errors.ErrorTypeAuthentication,
		errors.ErrorTypeRateLimit,
		errors.ErrorTypeTimeout,
		errors.ErrorTypeConnection,
		errors.ErrorTypeNotFound,
		errors.ErrorTypeQuery,
		errors.ErrorTypeData,
		errors.ErrorTypeConfig,
	} {
		if errors.HasType(err, t) {
			return string(t)
		}
	}
	return "unknown"
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form
func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfter extracts a server-requested delay from err
func retryAfter(err error) time.Duration {
	var e *errors.Error
	if !errors.As(err, &e) || e.Details == nil {
		return 0
	}
	d, _ := e.Details[detailRetryAfter].(time.Duration)
	return d
}
