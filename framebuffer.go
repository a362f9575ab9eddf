package gocapture

import (
	"sync"

	"github.com/pion/mediadevices/pkg/frame"
)

// A Frame is a read-only view into the frame buffer's backing memory. It
// is valid only between ReserveFrameBuffer returning it and the matching
// UnreserveFrameBuffer call.
type Frame struct {
	Data       []byte
	Resolution Resolution
	Format     frame.Format
}

type slotState int

const (
	slotEmpty slotState = iota
	slotFilling
	slotFilled
	slotReserved
)

// frameBuffer is the single-slot hand-off point between the driver's
// callback thread and the consumer thread. Its backing memory is allocated
// once, sized for the device's maximum resolution, and reused for every
// frame. There is no queue: a frame arriving while the slot is reserved is
// dropped and counted, never buffered, so the callback thread never waits
// on the consumer.
type frameBuffer struct {
	mu      sync.Mutex
	state   slotState
	buf     []byte
	n       int
	res     Resolution
	format  frame.Format
	dropped uint64
}

func newFrameBuffer(maxRes Resolution) *frameBuffer {
	// 4 bytes per pixel covers every supported color depth.
	return &frameBuffer{
		buf: make([]byte, maxRes.Width*maxRes.Height*4),
	}
}

// beginWrite copies a newly captured frame into the slot, reporting whether
// the frame was accepted. It is called only from the driver's callback
// thread. A reserved slot, or pixel data too large for the backing buffer,
// rejects the frame before any copy and increments the drop counter.
func (fb *frameBuffer) beginWrite(data []byte, res Resolution, format frame.Format) bool {
	fb.mu.Lock()
	if fb.state == slotReserved || len(data) > len(fb.buf) {
		fb.dropped++
		fb.mu.Unlock()
		return false
	}
	fb.state = slotFilling
	fb.mu.Unlock()

	// Only the callback thread writes, and the consumer cannot reserve a
	// slot that is not Filled, so the copy needs no lock.
	n := copy(fb.buf, data)

	fb.mu.Lock()
	fb.n = n
	fb.res = res
	fb.format = format
	fb.state = slotFilled
	fb.mu.Unlock()
	return true
}

// reserveForRead hands the slot's content to the consumer. It reports
// nothing available unless a completed frame is waiting.
func (fb *frameBuffer) reserveForRead() (Frame, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.state != slotFilled {
		return Frame{}, false
	}
	fb.state = slotReserved
	return Frame{
		Data:       fb.buf[:fb.n],
		Resolution: fb.res,
		Format:     fb.format,
	}, true
}

// release returns a reserved slot to the driver. Calling it without a
// reservation is a no-op.
func (fb *frameBuffer) release() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.state == slotReserved {
		fb.state = slotEmpty
	}
}

// lastFormat returns the pixel format of the most recently completed
// frame, or the zero format before any frame has arrived.
func (fb *frameBuffer) lastFormat() frame.Format {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.format
}

// droppedFrames returns how many frames were rejected because the slot was
// still reserved. Drops are a diagnostic, not an error.
func (fb *frameBuffer) droppedFrames() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dropped
}

func (fb *frameBuffer) resetDropped() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.dropped = 0
}

// reset empties the slot so the device can be reinitialized.
func (fb *frameBuffer) reset() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.state = slotEmpty
	fb.n = 0
	fb.res = Resolution{}
	fb.dropped = 0
}
