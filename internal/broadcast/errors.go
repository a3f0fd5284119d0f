package broadcast

import "errors"

var (
	// ErrSubscriberClosed is returned by a Subscriber whose connection is gone.
	ErrSubscriberClosed = errors.New("broadcast: subscriber closed")

	// ErrSubscriberSlow is returned by a Subscriber whose outbound buffer is full.
	ErrSubscriberSlow = errors.New("broadcast: subscriber buffer full")
)
