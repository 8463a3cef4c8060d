// Package reconcile implements optimistic state reconciliation: the
// short-lived overlay between "command sent" and "device confirmed".
//
// When a command is dispatched, the expected outcome is recorded as a
// prediction so reads can reflect it immediately. Confirmed updates from
// the registry discharge predictions; confirmed state always wins. A
// prediction unconfirmed after the reconciliation window (2s by default)
// is reverted, and waiters receive ErrPredictionExpired.
package reconcile
