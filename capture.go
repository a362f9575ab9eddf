// Package gocapture implements the hand-off between a video capture
// card's driver thread and a consuming render or record loop: a
// single-slot frame buffer, sticky capture events drained by polling, and
// per-resolution video signal parameter resolution with alias redirection.
package gocapture

import (
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DefaultModeChangeSkipFrames is how many frames are discarded after a
// mode change to let the hardware settle, unless Options overrides it.
const DefaultModeChangeSkipFrames = 2

// ControllerState is where a Controller is in its lifecycle.
type ControllerState int

const (
	// StateUninitialized means no device handle has been acquired.
	StateUninitialized ControllerState = iota
	// StateInitialized means the device handle is held but frames are not
	// being delivered.
	StateInitialized
	// StateCapturing means the driver is delivering frames.
	StateCapturing
	// StateReleased means the device handle has been given back.
	StateReleased
)

func (s ControllerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateCapturing:
		return "capturing"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

// Options configure a Controller.
type Options struct {
	Logger golog.Logger
	// Store resolves signal parameters per resolution. A fresh empty
	// store is used when nil.
	Store *ModeStore
	// SkipFramesAfterModeChange is the skip window armed on every mode
	// change. Zero means DefaultModeChangeSkipFrames; a negative value
	// disables skipping.
	SkipFramesAfterModeChange int
}

// A Controller owns a capture device for the lifetime of a session. The
// driver invokes its callbacks on the hardware's own thread; the consumer
// polls PopCaptureEventQueue and the frame buffer once per loop tick. The
// controller is the boundary past which no vendor return code travels.
type Controller struct {
	dev    Driver
	logger golog.Logger
	store  *ModeStore

	flags eventFlags
	slot  *frameBuffer

	// skipWindow and unusable are touched on the callback thread and so
	// stay off the controller mutex.
	skipWindow int32
	skipFrames int32
	unusable   int32

	mu           sync.Mutex
	state        ControllerState
	res          Resolution
	params       VideoSignalParameters
	inputChannel uint32
	colorDepth   uint32
	fatalErr     error
}

// New returns a controller for the given device. The device is not
// touched until Initialize.
func New(dev Driver, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = golog.Global()
	}
	store := opts.Store
	if store == nil {
		store = NewModeStore()
	}
	skip := opts.SkipFramesAfterModeChange
	switch {
	case skip == 0:
		skip = DefaultModeChangeSkipFrames
	case skip < 0:
		skip = 0
	}
	return &Controller{
		dev:        dev,
		logger:     logger,
		store:      store,
		skipFrames: int32(skip),
		colorDepth: 24,
	}
}

// ModeStore returns the store consulted when a new mode's parameters are
// applied.
func (c *Controller) ModeStore() *ModeStore {
	return c.store
}

// Initialize acquires the device handle and registers the frame-ready,
// mode-change, signal and fatal-error callbacks. The frame buffer is
// allocated once here, sized for the device's maximum resolution. A
// released controller may be initialized again.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	if c.state == StateInitialized || c.state == StateCapturing {
		c.mu.Unlock()
		return errors.New("capture device is already initialized")
	}
	// The slot must exist before the driver can invoke any callback.
	c.slot = newFrameBuffer(c.dev.MaximumResolution())
	c.mu.Unlock()

	atomic.StoreInt32(&c.unusable, 0)
	atomic.StoreInt32(&c.skipWindow, 0)
	c.flags.reset()

	h := Handlers{
		FrameReady:    c.onFrameReady,
		ModeChanged:   c.onModeChanged,
		SignalChanged: c.onSignalChanged,
		FatalError:    c.onFatalError,
	}
	if err := c.dev.Open(h); err != nil {
		return &DeviceInitError{Cause: err}
	}

	params := c.dev.DefaultParameters()
	c.mu.Lock()
	c.state = StateInitialized
	c.params = params
	c.fatalErr = nil
	c.mu.Unlock()

	info := c.dev.Info()
	c.logger.Infow("capture device initialized",
		"name", info.Name,
		"firmware", info.FirmwareVersion,
		"driver", info.DriverVersion,
		"inputs", info.InputCount,
	)
	return nil
}

// StartCapture begins driver-level frame delivery. Starting an already
// capturing controller is a no-op.
func (c *Controller) StartCapture() error {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return ErrDeviceUnusable
	}
	c.mu.Lock()
	switch c.state {
	case StateCapturing:
		c.mu.Unlock()
		return nil
	case StateInitialized:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if err := c.dev.StartCapture(); err != nil {
		return c.driverCallFailed("start capture", err)
	}
	c.mu.Lock()
	c.state = StateCapturing
	c.mu.Unlock()
	return nil
}

// StopCapture halts driver-level frame delivery without releasing the
// device handle, e.g. while recording holds the device exclusively.
func (c *Controller) StopCapture() error {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return ErrDeviceUnusable
	}
	c.mu.Lock()
	switch c.state {
	case StateInitialized:
		c.mu.Unlock()
		return nil
	case StateCapturing:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if err := c.dev.StopCapture(); err != nil {
		return c.driverCallFailed("stop capture", err)
	}
	c.mu.Lock()
	c.state = StateInitialized
	c.mu.Unlock()
	return nil
}

// Release gives the device handle back. The driver's deregistration is
// synchronous: Close blocks until no further callbacks will fire, and only
// then is internal state torn down, so Release is safe to call while a
// callback is mid-flight. After Release the controller may be initialized
// again.
func (c *Controller) Release() error {
	c.mu.Lock()
	if c.state == StateUninitialized || c.state == StateReleased {
		c.state = StateReleased
		c.mu.Unlock()
		return nil
	}
	capturing := c.state == StateCapturing
	c.mu.Unlock()

	var err error
	if capturing && atomic.LoadInt32(&c.unusable) == 0 {
		if stopErr := c.dev.StopCapture(); stopErr != nil {
			err = multierr.Append(err, c.driverCallFailed("stop capture", stopErr))
		}
	}
	err = multierr.Append(err, c.dev.Close())

	c.mu.Lock()
	c.state = StateReleased
	slot := c.slot
	c.mu.Unlock()
	if slot != nil {
		slot.reset()
	}
	c.flags.reset()
	return err
}

// State returns where the controller is in its lifecycle.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// onFrameReady runs on the driver's callback thread at the hardware's
// cadence. It must never block on the consumer: a reserved slot drops the
// frame, and frames inside the skip window after a mode change are
// discarded without a consumer-visible event.
func (c *Controller) onFrameReady(data []byte, info FrameInfo) {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return
	}
	for {
		n := atomic.LoadInt32(&c.skipWindow)
		if n <= 0 {
			break
		}
		if atomic.CompareAndSwapInt32(&c.skipWindow, n, n-1) {
			return
		}
	}
	if c.slot.beginWrite(data, info.Resolution, info.Format) {
		c.flags.post(EventNewFrame)
	}
}

// onModeChanged runs on the driver's callback thread when the device
// detects a new input resolution.
func (c *Controller) onModeChanged(res Resolution) {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return
	}
	c.flags.post(EventNewVideoMode)
	// Failures are logged at the driver boundary; the mode event reaches
	// the consumer either way.
	_ = c.ApplyNewCaptureResolution(res)
}

func (c *Controller) onSignalChanged(status SignalStatus) {
	switch status {
	case SignalOK:
		c.flags.post(EventNewSignal)
	case SignalNone:
		c.flags.post(EventSignalLost)
	case SignalInvalid:
		c.flags.post(EventInvalidSignal)
	}
}

func (c *Controller) onFatalError(err error) {
	atomic.StoreInt32(&c.unusable, 1)
	c.mu.Lock()
	c.fatalErr = err
	c.mu.Unlock()
	c.flags.post(EventUnrecoverableError)
}

// ApplyNewCaptureResolution resolves the signal parameters for a newly
// detected resolution through the mode store, clamps them to the device's
// bounds, and pushes them to the driver. The dropped-frame counter
// restarts and the skip window is armed first, so the hardware's settling
// frames are discarded before the consumer sees any.
func (c *Controller) ApplyNewCaptureResolution(target Resolution) error {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return ErrDeviceUnusable
	}
	c.mu.Lock()
	if c.state != StateInitialized && c.state != StateCapturing {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	slot := c.slot
	c.mu.Unlock()

	atomic.StoreInt32(&c.skipWindow, atomic.LoadInt32(&c.skipFrames))
	slot.resetDropped()

	params := c.store.ParametersForResolution(target).
		Clamp(c.dev.MinimumParameters(), c.dev.MaximumParameters())
	if err := c.dev.SetParameters(params); err != nil {
		return c.driverCallFailed("apply video signal parameters", err)
	}

	c.mu.Lock()
	c.res = target
	c.params = params
	c.mu.Unlock()
	return nil
}

// PopCaptureEventQueue drains pending events in a fixed priority order so
// a single poll per tick surfaces at most one semantically meaningful
// event, with errors and signal loss pre-empting frame delivery. It
// returns EventNone when nothing is pending.
func (c *Controller) PopCaptureEventQueue() CaptureEvent {
	for _, ev := range eventPriority {
		if c.flags.pollAndClear(ev) {
			return ev
		}
	}
	return EventNone
}

var eventPriority = [...]CaptureEvent{
	EventUnrecoverableError,
	EventSignalLost,
	EventInvalidSignal,
	EventNewSignal,
	EventNewVideoMode,
	EventNewFrame,
}

// ReserveFrameBuffer hands the most recently completed frame to the
// consumer, or reports nothing available. The driver cannot overwrite the
// frame until UnreserveFrameBuffer; late frames are dropped instead.
func (c *Controller) ReserveFrameBuffer() (Frame, bool) {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()
	if slot == nil {
		return Frame{}, false
	}
	return slot.reserveForRead()
}

// UnreserveFrameBuffer returns the frame buffer to the driver. The Frame
// view from the matching reserve call is invalid afterward.
func (c *Controller) UnreserveFrameBuffer() {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()
	if slot != nil {
		slot.release()
	}
}

// AssignVideoSignalParameters validates the given parameters against the
// device's bounds and pushes them to the driver. On success they are also
// recorded in the mode store as the confirmed parameters for the current
// resolution. Failure leaves prior state unchanged.
func (c *Controller) AssignVideoSignalParameters(p VideoSignalParameters) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	if err := p.Validate(c.dev.MinimumParameters(), c.dev.MaximumParameters()); err != nil {
		return err
	}
	if err := c.dev.SetParameters(p); err != nil {
		return c.driverCallFailed("assign video signal parameters", err)
	}
	c.mu.Lock()
	c.params = p
	res := c.res
	c.mu.Unlock()
	if !res.IsZero() {
		c.store.AddKnownMode(KnownVideoMode{Resolution: res, Parameters: p})
	}
	return nil
}

// AdjustHorizontalOffset shifts the horizontal position of the signal by
// delta, within the device's bounds.
func (c *Controller) AdjustHorizontalOffset(delta int) error {
	return c.adjustPosition("adjust horizontal offset", delta,
		func(p *VideoSignalParameters) *int { return &p.HorizontalPosition })
}

// AdjustVerticalOffset shifts the vertical position of the signal by
// delta, within the device's bounds.
func (c *Controller) AdjustVerticalOffset(delta int) error {
	return c.adjustPosition("adjust vertical offset", delta,
		func(p *VideoSignalParameters) *int { return &p.VerticalPosition })
}

func (c *Controller) adjustPosition(op string, delta int, field func(*VideoSignalParameters) *int) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	c.mu.Lock()
	next := c.params
	c.mu.Unlock()
	*field(&next) += delta
	if err := next.Validate(c.dev.MinimumParameters(), c.dev.MaximumParameters()); err != nil {
		return err
	}
	if err := c.dev.SetParameters(next); err != nil {
		return c.driverCallFailed(op, err)
	}
	c.mu.Lock()
	c.params = next
	c.mu.Unlock()
	return nil
}

// SetInputChannel switches the device to another physical input channel.
func (c *Controller) SetInputChannel(channel uint32) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	if count := c.dev.Info().InputCount; channel >= count {
		return errors.Errorf("input channel %d out of range [0, %d)", channel, count)
	}
	if err := c.dev.SetInputChannel(channel); err != nil {
		return c.driverCallFailed("set input channel", err)
	}
	c.mu.Lock()
	c.inputChannel = channel
	c.mu.Unlock()
	return nil
}

// SetInputColorDepth changes the bit depth the device captures at.
func (c *Controller) SetInputColorDepth(bpp uint32) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	switch bpp {
	case 15, 16, 24:
	default:
		return errors.Errorf("unsupported input color depth %d", bpp)
	}
	if err := c.dev.SetColorDepth(bpp); err != nil {
		return c.driverCallFailed("set input color depth", err)
	}
	c.mu.Lock()
	c.colorDepth = bpp
	c.mu.Unlock()
	return nil
}

// ChangeResolution forces the device to treat the signal as the given
// resolution. The detected-resolution change, and parameter application,
// arrive back through the driver's mode-change callback.
func (c *Controller) ChangeResolution(r Resolution) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	min, max := c.dev.MinimumResolution(), c.dev.MaximumResolution()
	if r.Width < min.Width || r.Width > max.Width ||
		r.Height < min.Height || r.Height > max.Height {
		return errors.Errorf("resolution %v outside device range [%v, %v]", r, min, max)
	}
	if err := c.dev.SetResolution(r); err != nil {
		return c.driverCallFailed("change resolution", err)
	}
	return nil
}

// Resolution returns the most recently detected input resolution.
func (c *Controller) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// CurrentParameters returns the signal parameters last pushed to the
// driver.
func (c *Controller) CurrentParameters() VideoSignalParameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// MissedFrameCount returns how many frames were dropped because the
// consumer still held the frame buffer. It restarts on every mode change.
func (c *Controller) MissedFrameCount() uint64 {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()
	if slot == nil {
		return 0
	}
	return slot.droppedFrames()
}

// IsCaptureActive reports whether the driver is delivering frames.
func (c *Controller) IsCaptureActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateCapturing
}

// HasNoSignal reports whether the device currently sees no input signal.
func (c *Controller) HasNoSignal() bool {
	return c.dev.SignalStatus() == SignalNone
}

// IsSignalInvalid reports whether the device sees a signal it cannot
// capture.
func (c *Controller) IsSignalInvalid() bool {
	return c.dev.SignalStatus() == SignalInvalid
}

// InputChannel returns the active physical input channel.
func (c *Controller) InputChannel() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputChannel
}

// ColorDepth returns the bit depth the device is capturing at.
func (c *Controller) ColorDepth() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.colorDepth
}

// PixelFormat returns the pixel format of the most recently captured
// frame, or the zero format before any frame has been delivered.
func (c *Controller) PixelFormat() frame.Format {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()
	if slot == nil {
		return ""
	}
	return slot.lastFormat()
}

// DeviceInfo identifies the underlying capture device.
func (c *Controller) DeviceInfo() DriverInfo {
	return c.dev.Info()
}

// Properties advertises the modes the device can capture.
func (c *Controller) Properties() []prop.Video {
	return c.dev.Properties()
}

// LastError returns the fatal error reported by the driver, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

func (c *Controller) requireInitialized() error {
	if atomic.LoadInt32(&c.unusable) != 0 {
		return ErrDeviceUnusable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInitialized && c.state != StateCapturing {
		return ErrNotInitialized
	}
	return nil
}

// driverCallFailed normalizes a vendor failure into a DriverCallError,
// logging the opaque return code for offline diagnosis.
func (c *Controller) driverCallFailed(op string, err error) error {
	var code int64 = -1
	var derr *DriverError
	if errors.As(err, &derr) {
		code = derr.Code
	}
	c.logger.Errorw("driver call failed", "op", op, "code", code, "error", err)
	return &DriverCallError{Op: op}
}
