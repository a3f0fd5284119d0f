// Package ingest consumes ChirpStack uplink events from MQTT and applies
// them to the device state store.
//
// The Pipeline owns the broker session: it connects, subscribes to
// application/{id|+}/device/+/event/up, and after any failure or lost
// connection waits a fixed backoff and starts again, forever. Messages
// are decoded on the broker callback and sharded by device EUI across a
// fixed pool of workers with bounded queues.
//
// Malformed payloads are logged and dropped; non-uplink topics are dropped
// silently. Neither stops the pipeline.
package ingest
