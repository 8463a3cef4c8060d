package command

import (
	"fmt"

	"github.com/coachsync/coachsync/internal/entity"
)

// Kind names a command verb.
type Kind string

// Supported command kinds.
const (
	KindSet            Kind = "set"
	KindToggle         Kind = "toggle"
	KindBrightnessUp   Kind = "brightness_up"
	KindBrightnessDown Kind = "brightness_down"
	KindLock           Kind = "lock"
	KindUnlock         Kind = "unlock"
)

// brightnessStep is the increment applied by brightness_up/brightness_down.
const brightnessStep = 10

// Command is a validated control request against a single entity.
//
// State and Brightness are pointers so "not specified" is distinguishable
// from explicit zero values.
type Command struct {
	Kind Kind `json:"command"`

	// State is the desired on/off state for the set kind.
	State *bool `json:"state,omitempty"`

	// Brightness is the desired brightness level for the set kind,
	// in the range [0, 100].
	Brightness *int `json:"brightness,omitempty"`

	// Parameters carries protocol-specific extras passed through to the
	// bus payload unmodified.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Validate checks that the command is well-formed. Out-of-range values are
// rejected, never clamped.
func (c Command) Validate() error {
	switch c.Kind {
	case KindSet:
		if c.State == nil && c.Brightness == nil {
			return fmt.Errorf("%w: set requires state or brightness", ErrInvalidCommand)
		}
	case KindToggle, KindBrightnessUp, KindBrightnessDown, KindLock, KindUnlock:
		// No required fields.
	case "":
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Kind)
	}

	if c.Brightness != nil && (*c.Brightness < 0 || *c.Brightness > 100) {
		return fmt.Errorf("%w: brightness %d outside [0, 100]", ErrInvalidCommand, *c.Brightness)
	}

	return nil
}

// TargetState computes the state fields the command intends the entity to
// reach, given its current confirmed state. The same computation backs both
// the bus payload and optimistic prediction, so the two can never disagree.
func TargetState(ent *entity.Entity, cmd Command) entity.State {
	target := entity.State{}

	switch cmd.Kind {
	case KindSet:
		if cmd.State != nil {
			target["on"] = *cmd.State
		}
		if cmd.Brightness != nil {
			target["brightness"] = float64(*cmd.Brightness)
			// Setting a non-zero brightness implies on.
			if cmd.State == nil && *cmd.Brightness > 0 {
				target["on"] = true
			}
		}

	case KindToggle:
		on, _ := ent.State["on"].(bool)
		target["on"] = !on

	case KindBrightnessUp:
		target["brightness"] = stepBrightness(ent, brightnessStep)
		target["on"] = true

	case KindBrightnessDown:
		level := stepBrightness(ent, -brightnessStep)
		target["brightness"] = level
		if level == 0 {
			target["on"] = false
		}

	case KindLock:
		target["locked"] = true

	case KindUnlock:
		target["locked"] = false
	}

	return target
}

// stepBrightness adjusts the entity's current brightness by delta,
// clamped to [0, 100].
func stepBrightness(ent *entity.Entity, delta int) float64 {
	current := 0.0
	if v, ok := ent.State["brightness"].(float64); ok {
		current = v
	}
	next := current + float64(delta)
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	return next
}
