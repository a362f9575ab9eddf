package fake

import (
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/edaniels/gocapture"
)

func TestCloseIsSynchronousWithCallbacks(t *testing.T) {
	dev := New(time.Millisecond)

	var frames int64
	test.That(t, dev.Open(gocapture.Handlers{
		FrameReady: func(data []byte, info gocapture.FrameInfo) {
			atomic.AddInt64(&frames, 1)
		},
	}), test.ShouldBeNil)
	test.That(t, dev.StartCapture(), test.ShouldBeNil)

	time.Sleep(20 * time.Millisecond)
	test.That(t, dev.Close(), test.ShouldBeNil)

	// The core relies on deregistration blocking until no further
	// callbacks will fire.
	after := atomic.LoadInt64(&frames)
	test.That(t, after, test.ShouldBeGreaterThan, 0)
	time.Sleep(20 * time.Millisecond)
	test.That(t, atomic.LoadInt64(&frames), test.ShouldEqual, after)
}

func TestStopCaptureKeepsDeviceOpen(t *testing.T) {
	dev := New(0)

	var frames int64
	test.That(t, dev.Open(gocapture.Handlers{
		FrameReady: func(data []byte, info gocapture.FrameInfo) {
			atomic.AddInt64(&frames, 1)
		},
	}), test.ShouldBeNil)

	test.That(t, dev.StartCapture(), test.ShouldBeNil)
	dev.EmitFrame()
	test.That(t, atomic.LoadInt64(&frames), test.ShouldEqual, 1)

	test.That(t, dev.StopCapture(), test.ShouldBeNil)
	dev.EmitFrame()
	test.That(t, atomic.LoadInt64(&frames), test.ShouldEqual, 1)

	test.That(t, dev.StartCapture(), test.ShouldBeNil)
	dev.EmitFrame()
	test.That(t, atomic.LoadInt64(&frames), test.ShouldEqual, 2)
}

func TestVendorFailureInjection(t *testing.T) {
	dev := New(0)
	dev.FailNext("open", 13)

	err := dev.Open(gocapture.Handlers{})
	test.That(t, err, test.ShouldNotBeNil)
	derr, ok := err.(*gocapture.DriverError)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, derr.Code, test.ShouldEqual, 13)

	// Failures are one-shot.
	test.That(t, dev.Open(gocapture.Handlers{}), test.ShouldBeNil)
	test.That(t, dev.Close(), test.ShouldBeNil)
}
