package mqtt

import "fmt"

// Topic prefixes used by ChirpStack v4 and by lorawatch itself.
const (
	// TopicPrefixApplication is the root of every ChirpStack application topic.
	TopicPrefixApplication = "application"

	// TopicPrefixService is the base for lorawatch's own status topics.
	TopicPrefixService = "lorawatch"

	// wildcardLevel matches exactly one topic level.
	wildcardLevel = "+"
)

// Topics provides builders for the MQTT topics lorawatch reads and writes.
//
//	topics := mqtt.Topics{}
//	sub := topics.AllUplinks("")
//	// Returns: "application/+/device/+/event/up"
type Topics struct{}

// =============================================================================
// ChirpStack Application Topics
// =============================================================================

// DeviceUplink returns the uplink event topic for one device.
//
// Example: application/3f1c.../device/a84041000181c6b1/event/up
func (Topics) DeviceUplink(applicationID, devEUI string) string {
	return fmt.Sprintf("%s/%s/device/%s/event/up", TopicPrefixApplication, applicationID, devEUI)
}

// DeviceDownlink returns the downlink enqueue topic for one device.
//
// Example: application/3f1c.../device/a84041000181c6b1/command/down
func (Topics) DeviceDownlink(applicationID, devEUI string) string {
	return fmt.Sprintf("%s/%s/device/%s/command/down", TopicPrefixApplication, applicationID, devEUI)
}

// AllUplinks returns a pattern matching every device uplink in one
// application, or in all applications when applicationID is empty.
//
// Pattern: application/{id|+}/device/+/event/up
func (t Topics) AllUplinks(applicationID string) string {
	if applicationID == "" {
		applicationID = wildcardLevel
	}
	return t.DeviceUplink(applicationID, wildcardLevel)
}

// =============================================================================
// Service Topics
// =============================================================================

// ServiceStatus returns the retained online/offline status topic.
//
// Example: lorawatch/lorawatch-01/status
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixService, clientID)
}
