package uplink

import "errors"

// Decode errors. Use errors.Is() to classify.
var (
	// ErrNotUplink is returned when the topic is not an uplink event topic.
	ErrNotUplink = errors.New("uplink: not an uplink topic")

	// ErrMalformed is returned when the payload cannot be decoded or lacks a device EUI.
	ErrMalformed = errors.New("uplink: malformed payload")
)
