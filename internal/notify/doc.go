// Package notify implements the state-change fan-out between the entity
// registry and push consumers (the WebSocket hub, the reconciliation
// layer).
//
// The registry's confirmation hook feeds Publish; subscribers receive
// events on buffered channels. Publish never blocks on a slow subscriber:
// an event that does not fit in a subscriber's buffer is dropped for that
// subscriber only, and consumers are expected to recover by re-reading
// full entity state.
package notify
