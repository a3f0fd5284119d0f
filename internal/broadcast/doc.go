// Package broadcast fans device updates out to live subscribers.
//
// A Hub holds a set of Subscribers (in production, WebSocket peers) and
// pushes two JSON message types to all of them:
//
//	{"type":"device_data","device_eui":"...","data":{...},"timestamp":"..."}
//	{"type":"stats_update","stats":{...},"timestamp":"..."}
//
// A subscriber whose Send fails is removed after the delivery pass and
// never affects delivery to the others. Subscribers are expected to buffer
// and return ErrSubscriberSlow rather than block, so a stalled viewer is
// disconnected instead of stalling ingestion.
package broadcast
