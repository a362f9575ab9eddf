package gocapture

import "sync"

// A CaptureEvent is a notification from the capture device to its
// consumer. Events are sticky flags, not a FIFO: repeated occurrences of
// the same kind between polls collapse into one.
type CaptureEvent int

const (
	// EventNone means no event is pending.
	EventNone CaptureEvent = iota
	// EventNewSignal means a signal was gained after having none.
	EventNewSignal
	// EventSignalLost means the device lost its input signal.
	EventSignalLost
	// EventInvalidSignal means the device sees a signal it cannot capture.
	EventInvalidSignal
	// EventNewVideoMode means the device detected a new input resolution.
	EventNewVideoMode
	// EventNewFrame means a newly captured frame is waiting in the frame
	// buffer.
	EventNewFrame
	// EventUnrecoverableError means the device has failed in a way that
	// requires a full release and reinitialize cycle.
	EventUnrecoverableError

	numCaptureEvents
)

func (e CaptureEvent) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventNewSignal:
		return "new signal"
	case EventSignalLost:
		return "signal lost"
	case EventInvalidSignal:
		return "invalid signal"
	case EventNewVideoMode:
		return "new video mode"
	case EventNewFrame:
		return "new frame"
	case EventUnrecoverableError:
		return "unrecoverable error"
	}
	return "unknown"
}

// eventFlags holds one sticky flag per event kind. post is called from the
// driver's callback thread and must not block or allocate; pollAndClear is
// called only from the consumer thread. There is no ordering between
// distinct kinds.
type eventFlags struct {
	mu    sync.Mutex
	flags [numCaptureEvents]bool
}

// post sets the flag for the given kind, reporting whether it was newly
// set (false means it was already pending).
func (f *eventFlags) post(e CaptureEvent) bool {
	if e <= EventNone || e >= numCaptureEvents {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags[e] {
		return false
	}
	f.flags[e] = true
	return true
}

// pollAndClear reports whether the flag for the given kind was set, and
// clears it.
func (f *eventFlags) pollAndClear(e CaptureEvent) bool {
	if e <= EventNone || e >= numCaptureEvents {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.flags[e]
	f.flags[e] = false
	return set
}

// reset clears every flag.
func (f *eventFlags) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = [numCaptureEvents]bool{}
}
