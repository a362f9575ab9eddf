package gocapture

import (
	"fmt"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

// SignalStatus describes what the device currently sees on its input.
type SignalStatus int

const (
	// SignalOK means a capturable signal is present.
	SignalOK SignalStatus = iota
	// SignalNone means no signal is present.
	SignalNone
	// SignalInvalid means a signal is present but outside the device's
	// capture range.
	SignalInvalid
)

func (s SignalStatus) String() string {
	switch s {
	case SignalOK:
		return "ok"
	case SignalNone:
		return "no signal"
	case SignalInvalid:
		return "invalid signal"
	}
	return "unknown"
}

// FrameInfo describes the pixel data handed to a FrameReady callback.
type FrameInfo struct {
	Resolution Resolution
	Format     frame.Format
	// Stride is the length in bytes of one row of pixel data.
	Stride int
}

// DriverInfo identifies a capture device.
type DriverInfo struct {
	Name            string
	Serial          string
	FirmwareVersion string
	DriverVersion   string
	// InputCount is how many physical input channels the device has.
	InputCount uint32
}

// Handlers are the callbacks a Driver invokes from its own delivery
// thread, at the hardware's cadence. They must return quickly and must
// never block on the consumer; FrameReady in particular runs on the hot
// path and must not allocate or log.
type Handlers struct {
	// FrameReady is invoked with newly captured pixel data. The data is
	// only valid for the duration of the call.
	FrameReady func(data []byte, info FrameInfo)
	// ModeChanged is invoked when the device detects a new input
	// resolution.
	ModeChanged func(res Resolution)
	// SignalChanged is invoked when the input signal is gained, lost, or
	// becomes invalid.
	SignalChanged func(status SignalStatus)
	// FatalError is invoked at most once, when the device fails in a way
	// that requires releasing it (e.g. it was removed).
	FatalError func(err error)
}

// A Driver is a vendor capture card API. Implementations deliver frames
// and state changes through the Handlers registered at Open; Close must
// block until no further callbacks will fire.
//
// Driver calls report vendor failures as *DriverError values carrying the
// vendor's return code. The Controller is the only code that interprets
// them; no vendor code leaks past it.
type Driver interface {
	Open(h Handlers) error
	Close() error

	StartCapture() error
	StopCapture() error

	Info() DriverInfo
	// Properties advertises the modes the device can capture.
	Properties() []prop.Video
	MinimumResolution() Resolution
	MaximumResolution() Resolution
	MinimumParameters() VideoSignalParameters
	MaximumParameters() VideoSignalParameters
	DefaultParameters() VideoSignalParameters

	SetParameters(p VideoSignalParameters) error
	SetInputChannel(channel uint32) error
	SetColorDepth(bpp uint32) error
	SetResolution(r Resolution) error

	SignalStatus() SignalStatus
}

// A DriverError carries a vendor API's opaque return code alongside the
// operation that produced it.
type DriverError struct {
	Op   string
	Code int64
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s returned code %d", e.Op, e.Code)
}
