package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrAlreadyLive) {
//	    // seed arrived after live traffic
//	}
var (
	// ErrDeviceNotFound is returned when a device EUI has no state.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned when a device EUI is empty after normalisation.
	ErrInvalidDeviceID = errors.New("device: invalid device id")

	// ErrAlreadyLive is returned by LoadInitial once live updates have started.
	ErrAlreadyLive = errors.New("device: store already receiving live updates")

	// ErrPersistence wraps failures of the backing store.
	ErrPersistence = errors.New("device: persistence failed")
)
