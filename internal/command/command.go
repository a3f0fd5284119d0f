package command

import (
	"fmt"
	"strings"
)

// Action is the requested output state.
type Action string

// Supported actions.
const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// ParseAction validates and normalises an action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Channel is one switchable output of an actuator.
type Channel string

// Supported channels.
const (
	ChannelSwitch1 Channel = "switch_1"
	ChannelSwitch2 Channel = "switch_2"
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelSwitch1, ChannelSwitch2}

// ParseChannel validates a channel string.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelSwitch1, ChannelSwitch2:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// Command is one operator request for one channel.
type Command struct {
	DeviceID string
	Action   Action
	Channel  Channel
}

// downlink is the ChirpStack v4 MQTT downlink enqueue payload. ChirpStack
// runs the device profile codec over Object to build the frame.
type downlink struct {
	DevEUI    string            `json:"devEui"`
	Confirmed bool              `json:"confirmed"`
	FPort     int               `json:"fPort"`
	Object    map[string]string `json:"object"`
}
