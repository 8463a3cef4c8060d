package entity

import "time"

// Entity represents a controllable or observable device-backed object
// exposed through the API: a light, lock, sensor, switch and so on.
//
// Entity state is authoritative: it is mutated only by confirmed device
// responses or passive bus observation (via Registry.ApplyConfirmedUpdate),
// never directly by client commands. Client commands produce pending
// predictions on the consumer side, not committed state.
type Entity struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Type     DeviceType `json:"device_type"`
	Protocol Protocol   `json:"protocol"`
	Area     string     `json:"area,omitempty"`

	// Current confirmed state
	State State `json:"state"`

	// Available reports whether the device is currently reachable on the bus.
	// Commands against unavailable entities are rejected without dispatch.
	Available bool `json:"available"`

	// LastUpdated is the timestamp of the most recent confirmed state update.
	// It advances monotonically; stale updates are discarded.
	LastUpdated *time.Time `json:"last_updated,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds the current entity state as a JSON map of named fields.
//
// Examples:
//   - Light: {"on": true, "brightness": 75}
//   - Lock: {"locked": true}
//   - Tank sensor: {"level": 62.5, "capacity_litres": 200}
type State map[string]any

// DeepCopy creates a complete independent copy of the Entity.
// The state map is cloned so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}

	cpy := *e // Shallow copy of value fields
	cpy.State = deepCopyState(e.State)

	if e.LastUpdated != nil {
		ts := *e.LastUpdated
		cpy.LastUpdated = &ts
	}

	return &cpy
}

// deepCopyState creates a deep copy of a State map.
// Nested maps and slices are recursively copied.
func deepCopyState(s State) State {
	if s == nil {
		return nil
	}
	cpy := make(State, len(s))
	for k, v := range s {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, inner := range val {
			cpy[k] = deepCopyValue(inner)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// DeviceType represents the specific kind of device behind an entity.
type DeviceType string

// DeviceType constants.
const (
	DeviceTypeLight      DeviceType = "light"
	DeviceTypeLock       DeviceType = "lock"
	DeviceTypeSwitch     DeviceType = "switch"
	DeviceTypeSensor     DeviceType = "sensor"
	DeviceTypeFan        DeviceType = "fan"
	DeviceTypeThermostat DeviceType = "thermostat"
	DeviceTypeTank       DeviceType = "tank"
	DeviceTypePump       DeviceType = "pump"
	DeviceTypeAwning     DeviceType = "awning"
	DeviceTypeSlide      DeviceType = "slide"
)

// AllDeviceTypes returns all valid device type values.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		DeviceTypeLight, DeviceTypeLock, DeviceTypeSwitch, DeviceTypeSensor,
		DeviceTypeFan, DeviceTypeThermostat, DeviceTypeTank, DeviceTypePump,
		DeviceTypeAwning, DeviceTypeSlide,
	}
}

// Protocol identifies the bus protocol an entity originates from.
type Protocol string

// Protocol constants.
const (
	ProtocolRVC   Protocol = "rvc"
	ProtocolJ1939 Protocol = "j1939"
	ProtocolOther Protocol = "other"
)

// AllProtocols returns all valid protocol values.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolRVC, ProtocolJ1939, ProtocolOther}
}
