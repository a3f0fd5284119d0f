package uplink

import (
	"fmt"
	"strings"
)

// Topic layout: application/{application_id}/device/{dev_eui}/event/up
const (
	topicSegments = 6

	segApplication = 0
	segAppID       = 1
	segDevice      = 2
	segDevEUI      = 3
	segEvent       = 4
	segEventType   = 5
)

// ParseTopic extracts the application id and device EUI from an uplink
// event topic. Any other ChirpStack event (join, ack, txack, status, log)
// returns ErrNotUplink.
func ParseTopic(topic string) (applicationID, devEUI string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicSegments ||
		parts[segApplication] != "application" ||
		parts[segDevice] != "device" ||
		parts[segEvent] != "event" ||
		parts[segEventType] != "up" {
		return "", "", fmt.Errorf("%w: %q", ErrNotUplink, topic)
	}
	if parts[segAppID] == "" || parts[segDevEUI] == "" {
		return "", "", fmt.Errorf("%w: empty segment in %q", ErrNotUplink, topic)
	}
	return parts[segAppID], NormalizeDeviceID(parts[segDevEUI]), nil
}
