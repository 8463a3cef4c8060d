// Package mqtt wraps paho.mqtt.golang for communication with the device
// gateways that bridge the RV-C and J1939 buses.
//
// Gateways publish confirmed state to coachsync/state/{protocol}/{entity_id}
// and device reachability to coachsync/availability/{protocol}/{entity_id};
// the core publishes commands to coachsync/command/{protocol}/{entity_id}.
// The client handles reconnection with exponential backoff and restores
// subscriptions automatically.
package mqtt
