package entity

import (
	"errors"
	"fmt"
)

// Domain errors for the entity package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, entity.ErrNotFound) {
//	    // handle not found case
//	}
//
// The specific validation errors all wrap ErrInvalid, so callers that
// only care whether validation failed can branch on it alone.
var (
	// ErrNotFound is returned when an entity ID does not exist.
	ErrNotFound = errors.New("entity: not found")

	// ErrExists is returned when creating an entity with an ID that already exists.
	ErrExists = errors.New("entity: already exists")

	// ErrInvalid is returned when entity validation fails.
	ErrInvalid = errors.New("entity: invalid")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = fmt.Errorf("%w device type", ErrInvalid)

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = fmt.Errorf("%w protocol", ErrInvalid)

	// ErrInvalidName is returned when an entity name is empty or too long.
	ErrInvalidName = fmt.Errorf("%w name", ErrInvalid)

	// ErrInvalidState is returned when state validation fails.
	ErrInvalidState = fmt.Errorf("%w state", ErrInvalid)
)
