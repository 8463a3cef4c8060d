package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxNameLength is the maximum allowed length for entity names.
const maxNameLength = 128

// Validate checks that an entity's fields are well-formed.
// It returns a sentinel error (wrapped with detail) on the first failure,
// so callers can branch with errors.Is.
func Validate(ent *Entity) error {
	if ent == nil {
		return ErrInvalid
	}

	name := strings.TrimSpace(ent.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if !isValidDeviceType(ent.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, ent.Type)
	}

	if !isValidProtocol(ent.Protocol) {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, ent.Protocol)
	}

	if err := validateState(ent.State); err != nil {
		return err
	}

	return nil
}

// validateState checks that state field names are non-empty.
// Values are deliberately unconstrained: field vocabularies vary by
// device type and the bus is the source of truth for them.
func validateState(s State) error {
	for k := range s {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidState)
		}
	}
	return nil
}

func isValidDeviceType(dt DeviceType) bool {
	for _, valid := range AllDeviceTypes() {
		if dt == valid {
			return true
		}
	}
	return false
}

func isValidProtocol(p Protocol) bool {
	for _, valid := range AllProtocols() {
		if p == valid {
			return true
		}
	}
	return false
}

// GenerateID returns a new unique entity identifier.
func GenerateID() string {
	return uuid.NewString()
}
