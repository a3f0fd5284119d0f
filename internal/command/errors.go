package command

import "errors"

// Dispatch errors. Transport failures wrap ErrTransport; the rest are
// validation failures and nothing was published.
var (
	// ErrInvalidAction is returned for an action other than on or off.
	ErrInvalidAction = errors.New("command: invalid action")

	// ErrInvalidChannel is returned for an unknown output channel.
	ErrInvalidChannel = errors.New("command: invalid channel")

	// ErrInvalidDeviceID is returned when the device EUI is empty.
	ErrInvalidDeviceID = errors.New("command: invalid device id")

	// ErrUnknownApplication is returned when no application id is
	// configured and the device has never been heard from.
	ErrUnknownApplication = errors.New("command: unknown application for device")

	// ErrTransport wraps a failed publish to the broker.
	ErrTransport = errors.New("command: transport failed")
)

// ChannelError is one failed channel of a SendAll call.
type ChannelError struct {
	Channel Channel
	Err     error
}

func (e *ChannelError) Error() string {
	return string(e.Channel) + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// FailedChannels returns the per-channel failures carried by a SendAll
// error. It returns nil for errors that did not come from a channel publish.
func FailedChannels(err error) []*ChannelError {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else if err != nil {
		errs = []error{err}
	}

	var out []*ChannelError
	for _, e := range errs {
		var ce *ChannelError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	return out
}
