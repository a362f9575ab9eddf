// Package fake implements an in-memory capture device driver. It delivers
// frames from its own goroutine on a configurable schedule and lets tests
// and demos script signal drops, mode changes, per-operation failures, and
// fatal device errors.
package fake

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.viam.com/utils"

	"github.com/edaniels/gocapture"
)

func init() {
	gocapture.RegisterDriver("fake", func() (gocapture.Driver, error) {
		return New(0), nil
	})
}

var (
	minResolution = gocapture.Resolution{Width: 160, Height: 120}
	maxResolution = gocapture.Resolution{Width: 1920, Height: 1080, BitsPerPixel: 32}
)

// A Device is a simulated capture card.
type Device struct {
	mu        sync.Mutex
	info      gocapture.DriverInfo
	interval  time.Duration
	handlers  gocapture.Handlers
	opened    bool
	capturing bool
	signal    gocapture.SignalStatus
	res       gocapture.Resolution
	format    frame.Format
	channel   uint32
	depth     uint32
	failures  map[string]int64
	applied   []gocapture.VideoSignalParameters
	seq       byte
	buf       []byte

	stop                    chan struct{}
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a device that emits one frame per interval while capturing.
// An interval of zero means frames are only emitted by explicit EmitFrame
// calls.
func New(interval time.Duration) *Device {
	return &Device{
		info: gocapture.DriverInfo{
			Name:            "fake capture card",
			Serial:          uuid.NewString(),
			FirmwareVersion: "1.0",
			DriverVersion:   "1.0.0",
			InputCount:      2,
		},
		interval: interval,
		signal:   gocapture.SignalOK,
		res:      gocapture.Resolution{Width: 640, Height: 480, BitsPerPixel: 32},
		format:   frame.FormatRGBA,
		depth:    24,
		failures: map[string]int64{},
		buf:      make([]byte, maxResolution.Width*maxResolution.Height*4),
	}
}

// FailNext makes the next call of the named operation ("open", "start
// capture", "set parameters", "set input channel", "set color depth",
// "set resolution") fail with the given vendor code.
func (d *Device) FailNext(op string, code int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = code
}

func (d *Device) vendorCall(op string) error {
	if code, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return &gocapture.DriverError{Op: op, Code: code}
	}
	return nil
}

// Open registers the session's callbacks.
func (d *Device) Open(h gocapture.Handlers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.vendorCall("open"); err != nil {
		return err
	}
	d.opened = true
	d.handlers = h
	return nil
}

// Close deregisters callbacks synchronously: once it returns, no further
// callbacks will fire.
func (d *Device) Close() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.capturing = false
	d.opened = false
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.activeBackgroundWorkers.Wait()

	d.mu.Lock()
	d.handlers = gocapture.Handlers{}
	d.mu.Unlock()
	return nil
}

// StartCapture begins frame delivery on the device's own goroutine.
func (d *Device) StartCapture() error {
	d.mu.Lock()
	if err := d.vendorCall("start capture"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.capturing {
		d.mu.Unlock()
		return nil
	}
	d.capturing = true
	interval := d.interval
	var stop chan struct{}
	if interval > 0 {
		stop = make(chan struct{})
		d.stop = stop
	}
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	d.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.EmitFrame()
			}
		}
	}, d.activeBackgroundWorkers.Done)
	return nil
}

// StopCapture halts frame delivery but keeps the device open.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	if err := d.vendorCall("stop capture"); err != nil {
		d.mu.Unlock()
		return err
	}
	stop := d.stop
	d.stop = nil
	d.capturing = false
	d.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	d.activeBackgroundWorkers.Wait()
	return nil
}

func (d *Device) Info() gocapture.DriverInfo {
	return d.info
}

func (d *Device) Properties() []prop.Video {
	return []prop.Video{
		{Width: 640, Height: 480, FrameRate: 60, FrameFormat: frame.FormatRGBA},
		{Width: 1280, Height: 720, FrameRate: 60, FrameFormat: frame.FormatRGBA},
		{Width: 1920, Height: 1080, FrameRate: 60, FrameFormat: frame.FormatRGBA},
	}
}

func (d *Device) MinimumResolution() gocapture.Resolution { return minResolution }
func (d *Device) MaximumResolution() gocapture.Resolution { return maxResolution }

func (d *Device) MinimumParameters() gocapture.VideoSignalParameters {
	return gocapture.MinVideoSignalParameters()
}

func (d *Device) MaximumParameters() gocapture.VideoSignalParameters {
	return gocapture.MaxVideoSignalParameters()
}

func (d *Device) DefaultParameters() gocapture.VideoSignalParameters {
	return gocapture.DefaultVideoSignalParameters()
}

// SetParameters records the pushed parameters; tests query them through
// AppliedParameters.
func (d *Device) SetParameters(p gocapture.VideoSignalParameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.vendorCall("set parameters"); err != nil {
		return err
	}
	d.applied = append(d.applied, p)
	return nil
}

func (d *Device) SetInputChannel(channel uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.vendorCall("set input channel"); err != nil {
		return err
	}
	d.channel = channel
	return nil
}

func (d *Device) SetColorDepth(bpp uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.vendorCall("set color depth"); err != nil {
		return err
	}
	d.depth = bpp
	return nil
}

// SetResolution forces a mode; the hardware then re-detects it, so the
// mode-change callback fires before SetResolution returns, like a vendor
// driver's own thread would.
func (d *Device) SetResolution(r gocapture.Resolution) error {
	d.mu.Lock()
	if err := d.vendorCall("set resolution"); err != nil {
		d.mu.Unlock()
		return err
	}
	d.res = r
	modeChanged := d.handlers.ModeChanged
	d.mu.Unlock()

	if modeChanged != nil {
		modeChanged(r)
	}
	return nil
}

func (d *Device) SignalStatus() gocapture.SignalStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signal
}

// EmitFrame delivers one frame through the frame-ready callback, as the
// device's delivery goroutine would. Frames are not delivered without a
// valid signal or while capture is stopped.
func (d *Device) EmitFrame() {
	d.mu.Lock()
	if !d.capturing || d.signal != gocapture.SignalOK {
		d.mu.Unlock()
		return
	}
	frameReady := d.handlers.FrameReady
	res := d.res
	format := d.format
	size := int(res.Width * res.Height * 4)
	d.seq++
	fill := d.seq
	data := d.buf[:size]
	for i := range data {
		data[i] = fill
	}
	d.mu.Unlock()

	if frameReady != nil {
		frameReady(data, gocapture.FrameInfo{
			Resolution: res,
			Format:     format,
			Stride:     int(res.Width) * 4,
		})
	}
}

// DetectMode simulates the hardware detecting a new input resolution.
func (d *Device) DetectMode(r gocapture.Resolution) {
	d.mu.Lock()
	d.res = r
	d.signal = gocapture.SignalOK
	modeChanged := d.handlers.ModeChanged
	d.mu.Unlock()

	if modeChanged != nil {
		modeChanged(r)
	}
}

// DropSignal simulates the input signal disappearing.
func (d *Device) DropSignal() {
	d.setSignal(gocapture.SignalNone)
}

// InvalidateSignal simulates a signal the device cannot capture.
func (d *Device) InvalidateSignal() {
	d.setSignal(gocapture.SignalInvalid)
}

// RestoreSignal simulates the input signal coming back.
func (d *Device) RestoreSignal() {
	d.setSignal(gocapture.SignalOK)
}

func (d *Device) setSignal(status gocapture.SignalStatus) {
	d.mu.Lock()
	d.signal = status
	signalChanged := d.handlers.SignalChanged
	d.mu.Unlock()

	if signalChanged != nil {
		signalChanged(status)
	}
}

// InjectFatal simulates an unrecoverable device failure, e.g. removal.
func (d *Device) InjectFatal(err error) {
	d.mu.Lock()
	fatal := d.handlers.FatalError
	d.mu.Unlock()

	if fatal != nil {
		fatal(err)
	}
}

// AppliedParameters returns every parameter set pushed to the device, in
// order.
func (d *Device) AppliedParameters() []gocapture.VideoSignalParameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gocapture.VideoSignalParameters(nil), d.applied...)
}

// InputChannel returns the active input channel.
func (d *Device) InputChannel() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// ColorDepth returns the configured capture bit depth.
func (d *Device) ColorDepth() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}
