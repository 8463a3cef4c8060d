// Package entity implements the authoritative registry of device-backed
// entities: lights, locks, switches, sensors and other RV devices exposed
// through the API.
//
// The Registry caches entities in memory with per-entity locking on top of
// a persistent Repository. Confirmed state flows through a single mutation
// path, ApplyConfirmedUpdate, which enforces timestamp monotonicity (stale
// updates are discarded) and idempotence under duplicate delivery. Client
// commands never mutate confirmed state directly; they travel through the
// command dispatcher, and only device confirmations land here.
//
// After each confirmed mutation the registry invokes a registered hook with
// the merged fields, which feeds the state-change notifier.
package entity
