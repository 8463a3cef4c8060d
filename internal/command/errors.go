package command

import "errors"

var (
	// ErrInvalidCommand is returned when a command fails validation.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrUnavailable is returned when the target entity is not reachable
	// on the bus.
	ErrUnavailable = errors.New("command: entity unavailable")

	// ErrUnauthorized is returned when the caller lacks the control scope.
	ErrUnauthorized = errors.New("command: unauthorized")

	// ErrEmptyTargetSet is returned when a bulk request names no targets.
	ErrEmptyTargetSet = errors.New("command: empty target set")

	// ErrTooManyTargets is returned when a bulk request exceeds the
	// per-operation target limit.
	ErrTooManyTargets = errors.New("command: too many targets")

	// ErrDuplicateTarget is returned when a bulk request names the same
	// entity more than once.
	ErrDuplicateTarget = errors.New("command: duplicate target")

	// ErrOperationNotFound is returned when a bulk operation ID does not
	// exist in the audit store.
	ErrOperationNotFound = errors.New("command: operation not found")
)
