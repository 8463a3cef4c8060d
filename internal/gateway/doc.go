// Package gateway bridges the entity registry and the MQTT-attached
// device gateways.
//
// Inbound traffic on coachsync/state/+/+ and coachsync/availability/+/+
// feeds the registry's confirmed-update and availability paths; outbound
// command payloads go to coachsync/command/{protocol}/{entity_id}.
package gateway
