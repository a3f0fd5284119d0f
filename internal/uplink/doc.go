// Package uplink decodes ChirpStack v4 uplink events into Event values.
//
// Decoding is a pure function of topic, payload bytes and the receipt time
// supplied by the caller. The decoded application object is kept as an open
// map: its keys depend on the device profile's codec and are not typed here.
//
// Errors:
//   - ErrNotUplink: the topic is not an uplink event topic (join, ack, status...).
//     Callers drop these silently.
//   - ErrMalformed: the payload is not a JSON object or has no device EUI.
//     Callers log and drop these.
package uplink
