// Package dispatch defines the channel dispatcher interfaces and their error
// taxonomy. Dispatchers are the engine's only side effect: everything else it
// does is bookkeeping in the store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// EmailDispatcher delivers a rendered email notification.
type EmailDispatcher interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSDispatcher delivers a rendered sms notification.
type SMSDispatcher interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Dispatcher bundles the channels the step executor serves.
type Dispatcher interface {
	EmailDispatcher
	SMSDispatcher
}

// RetryableError marks a transient delivery failure: the engine backs off and
// retries the same node, bounded by max attempts.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable delivery failure: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// FatalError marks a permanent delivery failure, e.g. a malformed recipient:
// the instance fails without retry.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal delivery failure: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// Fatal wraps err as a permanent failure.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// IsRetryable reports whether the delivery failure may be retried. Timeouts
// and context deadline hits count as retryable; an explicit FatalError never
// does.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}

	return errors.Is(err, context.DeadlineExceeded)
}
