package reconcile

import "errors"

var (
	// ErrPredictionExpired is returned when a prediction's window passed
	// without a confirming update, and the optimistic view was reverted.
	ErrPredictionExpired = errors.New("reconcile: prediction expired")

	// ErrClosed is returned when the reconciler's event source shut down.
	ErrClosed = errors.New("reconcile: notifier closed")
)
