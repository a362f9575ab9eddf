package gocapture

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDeviceUnusable is returned by every operation after the driver has
// reported an unrecoverable error. Only a Release followed by a fresh
// Initialize clears it.
var ErrDeviceUnusable = errors.New("capture device is in an unrecoverable error state")

// ErrNotInitialized is returned by operations that need a device handle
// before Initialize has succeeded or after Release.
var ErrNotInitialized = errors.New("capture device is not initialized")

// A DeviceInitError means the device handle could not be acquired or no
// compatible device is present. It is unrecoverable for the session.
type DeviceInitError struct {
	Cause error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("failed to initialize capture device: %v", e.Cause)
}

func (e *DeviceInitError) Unwrap() error {
	return e.Cause
}

// A DriverCallError means a single driver operation failed. The vendor's
// return code is logged at the driver boundary and does not travel with
// the error; prior device state is unchanged.
type DriverCallError struct {
	Op string
}

func (e *DriverCallError) Error() string {
	return fmt.Sprintf("driver call %q failed", e.Op)
}
