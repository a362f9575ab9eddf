package gocapture_test

import (
	"errors"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/frame"
	"go.viam.com/test"

	"github.com/edaniels/gocapture"
	"github.com/edaniels/gocapture/driver/fake"
)

func newTestController(t *testing.T, dev *fake.Device, opts gocapture.Options) *gocapture.Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = golog.NewTestLogger(t)
	}
	ctrl := gocapture.New(dev, opts)
	test.That(t, ctrl.Initialize(), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, ctrl.Release(), test.ShouldBeNil)
	})
	return ctrl
}

func TestInitializeFailure(t *testing.T) {
	dev := fake.New(0)
	dev.FailNext("open", 42)
	ctrl := gocapture.New(dev, gocapture.Options{Logger: golog.NewTestLogger(t)})

	err := ctrl.Initialize()
	test.That(t, err, test.ShouldNotBeNil)
	var initErr *gocapture.DeviceInitError
	test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)
	test.That(t, ctrl.State(), test.ShouldEqual, gocapture.StateUninitialized)
}

func TestLifecycle(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.State(), test.ShouldEqual, gocapture.StateInitialized)
	test.That(t, ctrl.Initialize(), test.ShouldNotBeNil)

	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)
	test.That(t, ctrl.State(), test.ShouldEqual, gocapture.StateCapturing)
	test.That(t, ctrl.IsCaptureActive(), test.ShouldBeTrue)
	// Starting again is a no-op.
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	test.That(t, ctrl.StopCapture(), test.ShouldBeNil)
	test.That(t, ctrl.State(), test.ShouldEqual, gocapture.StateInitialized)
	test.That(t, ctrl.IsCaptureActive(), test.ShouldBeFalse)

	test.That(t, ctrl.Release(), test.ShouldBeNil)
	test.That(t, ctrl.State(), test.ShouldEqual, gocapture.StateReleased)
	test.That(t, ctrl.StartCapture(), test.ShouldBeError, gocapture.ErrNotInitialized)

	// A released controller can run another session.
	test.That(t, ctrl.Initialize(), test.ShouldBeNil)
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)
}

func TestFrameDelivery(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNone)

	f, ok := ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Resolution, test.ShouldResemble, gocapture.Resolution{Width: 640, Height: 480, BitsPerPixel: 32})
	test.That(t, len(f.Data), test.ShouldEqual, 640*480*4)
	ctrl.UnreserveFrameBuffer()

	_, ok = ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestFrameBackpressure(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	f, ok := ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeTrue)
	first := f.Data[0]

	// Frames arriving while the consumer holds the buffer are dropped,
	// never buffered, and the held view is untouched.
	dev.EmitFrame()
	dev.EmitFrame()
	test.That(t, ctrl.MissedFrameCount(), test.ShouldEqual, 2)
	test.That(t, f.Data[0], test.ShouldEqual, first)

	ctrl.UnreserveFrameBuffer()
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	f, ok = ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Data[0], test.ShouldNotEqual, first)
	ctrl.UnreserveFrameBuffer()

	// A mode change restarts the missed-frame diagnostic.
	dev.DetectMode(gocapture.Resolution{Width: 1280, Height: 720, BitsPerPixel: 32})
	test.That(t, ctrl.MissedFrameCount(), test.ShouldEqual, 0)
}

func TestModeChangeSkipWindow(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{SkipFramesAfterModeChange: 2})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.DetectMode(gocapture.Resolution{Width: 1920, Height: 1080, BitsPerPixel: 32})
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewVideoMode)

	// Exactly the next two otherwise-valid frames settle-skip with no
	// consumer-visible event.
	dev.EmitFrame()
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNone)
	_, ok := ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeFalse)

	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	f, ok := ctrl.ReserveFrameBuffer()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Resolution, test.ShouldResemble, gocapture.Resolution{Width: 1920, Height: 1080, BitsPerPixel: 32})
	ctrl.UnreserveFrameBuffer()
}

func TestModeChangeAppliesStoredParameters(t *testing.T) {
	tuned := gocapture.DefaultVideoSignalParameters()
	tuned.Phase = 11
	tuned.HorizontalPosition = 300

	store := gocapture.NewModeStore()
	store.AddKnownMode(gocapture.KnownVideoMode{
		Resolution: gocapture.Resolution{Width: 800, Height: 600, BitsPerPixel: 32},
		Parameters: tuned,
	})
	store.AddAlias(gocapture.ModeAlias{
		From: gocapture.Resolution{Width: 400, Height: 300, BitsPerPixel: 32},
		To:   gocapture.Resolution{Width: 800, Height: 600, BitsPerPixel: 32},
	})

	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{Store: store})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.DetectMode(gocapture.Resolution{Width: 800, Height: 600, BitsPerPixel: 32})
	applied := dev.AppliedParameters()
	test.That(t, len(applied), test.ShouldBeGreaterThan, 0)
	test.That(t, applied[len(applied)-1], test.ShouldResemble, tuned)
	test.That(t, ctrl.Resolution(), test.ShouldResemble, gocapture.Resolution{Width: 800, Height: 600, BitsPerPixel: 32})
	test.That(t, ctrl.CurrentParameters(), test.ShouldResemble, tuned)

	// The aliased resolution gets the same treatment.
	dev.DetectMode(gocapture.Resolution{Width: 400, Height: 300, BitsPerPixel: 32})
	applied = dev.AppliedParameters()
	test.That(t, applied[len(applied)-1], test.ShouldResemble, tuned)
}

func TestSignalEvents(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.DropSignal()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventSignalLost)
	test.That(t, ctrl.HasNoSignal(), test.ShouldBeTrue)

	// No frames arrive without a signal.
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNone)

	dev.RestoreSignal()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewSignal)
	test.That(t, ctrl.HasNoSignal(), test.ShouldBeFalse)

	dev.InvalidateSignal()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventInvalidSignal)
	test.That(t, ctrl.IsSignalInvalid(), test.ShouldBeTrue)
}

func TestEventPriority(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	// A pending frame, a signal drop, and a fatal error all at once: the
	// consumer's single poll per tick sees the worst news first.
	dev.EmitFrame()
	dev.DropSignal()
	dev.InjectFatal(errors.New("device removed"))

	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventUnrecoverableError)
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventSignalLost)
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNone)
}

func TestUnrecoverableErrorLockout(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	dev.InjectFatal(errors.New("device removed"))
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventUnrecoverableError)
	test.That(t, ctrl.LastError(), test.ShouldNotBeNil)

	test.That(t, ctrl.SetInputChannel(1), test.ShouldBeError, gocapture.ErrDeviceUnusable)
	test.That(t, ctrl.StopCapture(), test.ShouldBeError, gocapture.ErrDeviceUnusable)
	test.That(t, ctrl.ChangeResolution(gocapture.Resolution{Width: 640, Height: 480}), test.ShouldBeError, gocapture.ErrDeviceUnusable)

	// Frames delivered after the fatal report are ignored.
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNone)

	// Release and reinitialize is the only way back.
	test.That(t, ctrl.Release(), test.ShouldBeNil)
	test.That(t, ctrl.Initialize(), test.ShouldBeNil)
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
}

func TestDriverCallFailureLeavesStateUnchanged(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})

	dev.FailNext("set input channel", 7)
	err := ctrl.SetInputChannel(1)
	test.That(t, err, test.ShouldNotBeNil)
	var callErr *gocapture.DriverCallError
	test.That(t, errors.As(err, &callErr), test.ShouldBeTrue)
	test.That(t, callErr.Op, test.ShouldEqual, "set input channel")
	test.That(t, ctrl.InputChannel(), test.ShouldEqual, 0)

	test.That(t, ctrl.SetInputChannel(1), test.ShouldBeNil)
	test.That(t, ctrl.InputChannel(), test.ShouldEqual, 1)

	// Out-of-range requests are rejected before reaching the driver.
	test.That(t, ctrl.SetInputChannel(5), test.ShouldNotBeNil)
	test.That(t, ctrl.InputChannel(), test.ShouldEqual, 1)

	dev.FailNext("set color depth", 3)
	test.That(t, ctrl.SetInputColorDepth(16), test.ShouldNotBeNil)
	test.That(t, ctrl.ColorDepth(), test.ShouldEqual, 24)
	test.That(t, ctrl.SetInputColorDepth(16), test.ShouldBeNil)
	test.That(t, ctrl.ColorDepth(), test.ShouldEqual, 16)
	test.That(t, ctrl.SetInputColorDepth(13), test.ShouldNotBeNil)
}

func TestChangeResolution(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	test.That(t, ctrl.ChangeResolution(gocapture.Resolution{Width: 4096, Height: 4096}), test.ShouldNotBeNil)

	// A forced resolution comes back through the mode-change callback.
	target := gocapture.Resolution{Width: 1024, Height: 768, BitsPerPixel: 32}
	test.That(t, ctrl.ChangeResolution(target), test.ShouldBeNil)
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewVideoMode)
	test.That(t, ctrl.Resolution(), test.ShouldResemble, target)
}

func TestAdjustOffsets(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})

	base := ctrl.CurrentParameters()
	test.That(t, ctrl.AdjustHorizontalOffset(5), test.ShouldBeNil)
	test.That(t, ctrl.CurrentParameters().HorizontalPosition, test.ShouldEqual, base.HorizontalPosition+5)
	test.That(t, ctrl.AdjustVerticalOffset(-3), test.ShouldBeNil)
	test.That(t, ctrl.CurrentParameters().VerticalPosition, test.ShouldEqual, base.VerticalPosition-3)

	// Pushing past the device's bounds fails with no partial application.
	before := ctrl.CurrentParameters()
	test.That(t, ctrl.AdjustVerticalOffset(-1000), test.ShouldNotBeNil)
	test.That(t, ctrl.CurrentParameters(), test.ShouldResemble, before)
}

func TestAssignVideoSignalParameters(t *testing.T) {
	dev := fake.New(0)
	store := gocapture.NewModeStore()
	ctrl := newTestController(t, dev, gocapture.Options{Store: store})
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	res := gocapture.Resolution{Width: 800, Height: 600, BitsPerPixel: 32}
	dev.DetectMode(res)

	tuned := gocapture.DefaultVideoSignalParameters()
	tuned.Phase = 9
	test.That(t, ctrl.AssignVideoSignalParameters(tuned), test.ShouldBeNil)
	test.That(t, ctrl.CurrentParameters(), test.ShouldResemble, tuned)
	// Confirmed parameters become the known mode for the live resolution.
	test.That(t, store.ParametersForResolution(res), test.ShouldResemble, tuned)

	bad := tuned
	bad.Phase = 99
	test.That(t, ctrl.AssignVideoSignalParameters(bad), test.ShouldNotBeNil)
	test.That(t, ctrl.CurrentParameters(), test.ShouldResemble, tuned)
}

func TestReleaseDuringDelivery(t *testing.T) {
	dev := fake.New(time.Millisecond)
	ctrl := gocapture.New(dev, gocapture.Options{Logger: golog.NewTestLogger(t)})
	test.That(t, ctrl.Initialize(), test.ShouldBeNil)
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)

	// Let the device's delivery goroutine run, then tear down while it
	// may be mid-callback. Close is synchronous, so this must not
	// deadlock and must leave the controller reinitializable.
	time.Sleep(20 * time.Millisecond)
	test.That(t, ctrl.Release(), test.ShouldBeNil)

	test.That(t, ctrl.Initialize(), test.ShouldBeNil)
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)
	time.Sleep(20 * time.Millisecond)
	test.That(t, ctrl.Release(), test.ShouldBeNil)
}

func TestDeviceQueries(t *testing.T) {
	dev := fake.New(0)
	ctrl := newTestController(t, dev, gocapture.Options{})

	info := ctrl.DeviceInfo()
	test.That(t, info.Name, test.ShouldNotBeEmpty)
	test.That(t, info.Serial, test.ShouldNotBeEmpty)
	test.That(t, info.InputCount, test.ShouldEqual, 2)

	props := ctrl.Properties()
	test.That(t, len(props), test.ShouldBeGreaterThan, 0)
	test.That(t, props[0].Width, test.ShouldBeGreaterThan, 0)

	test.That(t, ctrl.PixelFormat(), test.ShouldEqual, frame.Format(""))
	test.That(t, ctrl.StartCapture(), test.ShouldBeNil)
	dev.EmitFrame()
	test.That(t, ctrl.PopCaptureEventQueue(), test.ShouldEqual, gocapture.EventNewFrame)
	test.That(t, ctrl.PixelFormat(), test.ShouldEqual, frame.FormatRGBA)
}

func TestNamedDriver(t *testing.T) {
	dev, err := gocapture.NamedDriver("fake")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev, test.ShouldNotBeNil)
	test.That(t, gocapture.DriverNames(), test.ShouldContain, "fake")

	_, err = gocapture.NamedDriver("missing")
	test.That(t, err, test.ShouldNotBeNil)
}
