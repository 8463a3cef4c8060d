// Package influxdb records entity state telemetry in InfluxDB v2.
//
// Confirmed state updates are written as the entity_state measurement
// (numeric fields only) and bulk operation outcomes as bulk_operations.
// Writes are batched and non-blocking; the integration is optional and
// the service runs fully without it.
package influxdb
