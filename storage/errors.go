package storage

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"checklist-api/domain"
)

// classify maps Azure errors onto the domain error set. Timeouts, throttling
// and server faults become transient; a failed If-Match becomes a
// concurrency conflict; a rejected payload becomes a constraint error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.TransientError{Op: op, Err: err}
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return domain.ErrGone
		case http.StatusPreconditionFailed, http.StatusConflict:
			return domain.ErrConcurrencyConflict
		case http.StatusBadRequest:
			return &domain.ConstraintError{Reason: respErr.ErrorCode}
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &domain.TransientError{Op: op, Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientError{Op: op, Err: err}
	}
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
