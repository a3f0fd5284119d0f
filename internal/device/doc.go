// Package device owns the last-known state of every LoRaWAN device.
//
// # Architecture
//
//	uplink.Event ──▶ Store.Upsert ──▶ State (deep copy)
//	                    │                 │
//	                    │                 ├──▶ Writer.Enqueue ──▶ Repository.Save
//	                    │                 └──▶ broadcast / telemetry
//	                    │
//	Repository.LoadAll ─┴─▶ Store.LoadInitial (startup only)
//
// The Store is the single owner of mutable device state. A store-level
// RWMutex guards the device map; each device has its own mutex, so updates
// for one device are serialised while different devices update in parallel.
// Readers always receive deep copies.
//
// Status (online, recent, offline) is derived from LastSeen at read time
// and is never stored.
//
// The Writer is a coalescing write-behind queue in front of the Repository.
// Persistence is best-effort: a failed save is logged and never rolls back
// the in-memory state.
//
// # Startup ordering
//
// LoadInitial must finish before the first live Upsert. The first Upsert
// seals the store and any later LoadInitial returns ErrAlreadyLive, so stale
// seed data can never overwrite live data.
package device
