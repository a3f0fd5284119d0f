// Package influxdb exports per-uplink telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring. Every accepted uplink
// becomes one point in the "uplink" measurement carrying radio metrics and
// the numeric fields of the decoded payload. This is a metrics export for
// dashboards; device state itself lives in SQLite.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry export is optional
//	}
//	defer client.Close()
//
//	client.WriteUplink(state)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
