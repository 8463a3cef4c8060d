package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Coachsync MQTT hierarchy.
//
// Gateway topics use the flat scheme: coachsync/{category}/{protocol}/{entity_id}
// where protocol is the bus the entity lives on (rvc, j1939, other).
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "coachsync"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "coachsync/system"
)

// Topics provides builders for Coachsync MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("rvc", "light-bedroom-main")
//	// Returns: "coachsync/state/rvc/light-bedroom-main"
type Topics struct{}

// EntityState returns the topic for confirmed state updates from a gateway.
//
// Example: coachsync/state/rvc/light-bedroom-main
func (Topics) EntityState(protocol, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, entityID)
}

// EntityCommand returns the topic for commands to a gateway.
//
// Example: coachsync/command/rvc/light-bedroom-main
func (Topics) EntityCommand(protocol, entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, entityID)
}

// EntityAvailability returns the topic for device reachability updates.
//
// Example: coachsync/availability/rvc/light-bedroom-main
func (Topics) EntityAvailability(protocol, entityID string) string {
	return fmt.Sprintf("%s/availability/%s/%s", TopicPrefix, protocol, entityID)
}

// SystemStatus returns the system status topic.
//
// Example: coachsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllEntityStates returns a pattern matching every gateway state update.
//
// Pattern: coachsync/state/+/+
func (Topics) AllEntityStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllEntityAvailability returns a pattern matching every availability update.
//
// Pattern: coachsync/availability/+/+
func (Topics) AllEntityAvailability() string {
	return fmt.Sprintf("%s/availability/+/+", TopicPrefix)
}

// ParseEntityTopic extracts the protocol and entity ID from a flat-scheme
// topic (coachsync/{category}/{protocol}/{entity_id}). Returns false when
// the topic does not match the scheme.
func ParseEntityTopic(topic string) (protocol, entityID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
