package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/novacal/novacal-api/internal/models"
)

// StatusError carries an HTTP status from a non-SDK provider call so it can
// be classified uniformly.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Classify maps a provider call failure onto the retry taxonomy. Timeouts and
// connection resets are transient; 429 is rate limited; 5xx is retryable;
// remaining 4xx are terminal.
func Classify(err error) models.SyncErrorClass {
	if err == nil {
		return models.SyncErrNone
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.SyncErrTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.SyncErrTransient
	}

	status := 0
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		status = gErr.Code
	}
	var sErr *StatusError
	if errors.As(err, &sErr) {
		status = sErr.Status
	}

	switch {
	case status == http.StatusTooManyRequests:
		return models.SyncErrRateLimited
	case status >= 500:
		return models.SyncErrRetryable
	case status >= 400:
		return models.SyncErrNonRetryable
	}

	// Unknown failure modes get one retry cycle rather than silent burial.
	return models.SyncErrRetryable
}
