// Command capture_video runs a capture session against the simulated
// capture card, polling events and frames once per tick the way a display
// loop would.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/edaniels/gocapture"
	"github.com/edaniels/gocapture/driver/fake"
	"github.com/edaniels/gocapture/modefile"
)

var logger = golog.Global().Named("capture")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ModeFile   string `flag:"modes,usage=path to a known-mode parameter file"`
	IntervalMS int    `flag:"interval,usage=frame interval in milliseconds"`
	Seconds    int    `flag:"seconds,usage=how long to capture"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.IntervalMS == 0 {
		argsParsed.IntervalMS = 16
	}
	if argsParsed.Seconds == 0 {
		argsParsed.Seconds = 5
	}

	store := gocapture.NewModeStore()
	if argsParsed.ModeFile != "" {
		doc, err := modefile.Load(argsParsed.ModeFile)
		if err != nil {
			return err
		}
		if err := doc.Apply(store); err != nil {
			return err
		}
		logger.Infow("loaded mode file",
			"modes", len(doc.Modes),
			"aliases", len(doc.Aliases),
		)
	}

	interval := time.Duration(argsParsed.IntervalMS) * time.Millisecond
	dev := fake.New(interval)
	ctrl := gocapture.New(dev, gocapture.Options{Logger: logger, Store: store})

	if err := ctrl.Initialize(); err != nil {
		return err
	}
	if err := ctrl.StartCapture(); err != nil {
		return multierr.Combine(err, ctrl.Release())
	}
	dev.DetectMode(gocapture.Resolution{Width: 640, Height: 480, BitsPerPixel: 32})

	return runConsumerLoop(ctx, ctrl, dev, interval, argsParsed.Seconds, logger)
}

func runConsumerLoop(
	ctx context.Context,
	ctrl *gocapture.Controller,
	dev *fake.Device,
	interval time.Duration,
	seconds int,
	logger golog.Logger,
) (err error) {
	defer func() {
		logger.Infow("capture session over", "missed_frames", ctrl.MissedFrameCount())
		err = multierr.Combine(err, ctrl.Release())
	}()

	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	signalDropAt := time.Now().Add(time.Second)
	signalBackAt := time.Now().Add(2 * time.Second)
	modeChangeAt := time.Now().Add(3 * time.Second)
	frames := 0

	for time.Now().Before(deadline) {
		if !goutils.SelectContextOrWait(ctx, interval) {
			return ctx.Err()
		}

		// The simulated signal flickers and changes mode partway through.
		if !signalDropAt.IsZero() && time.Now().After(signalDropAt) {
			dev.DropSignal()
			signalDropAt = time.Time{}
		}
		if !signalBackAt.IsZero() && time.Now().After(signalBackAt) {
			dev.RestoreSignal()
			signalBackAt = time.Time{}
		}
		if !modeChangeAt.IsZero() && time.Now().After(modeChangeAt) {
			dev.DetectMode(gocapture.Resolution{Width: 1280, Height: 720, BitsPerPixel: 32})
			modeChangeAt = time.Time{}
		}

		switch ev := ctrl.PopCaptureEventQueue(); ev {
		case gocapture.EventNone:
		case gocapture.EventNewFrame:
			frame, ok := ctrl.ReserveFrameBuffer()
			if !ok {
				continue
			}
			frames++
			if frames%60 == 0 {
				logger.Infow("captured",
					"frames", frames,
					"resolution", frame.Resolution.String(),
					"bytes", len(frame.Data),
				)
			}
			ctrl.UnreserveFrameBuffer()
		case gocapture.EventUnrecoverableError:
			logger.Errorw("capture device failed", "error", ctrl.LastError())
			return ctrl.LastError()
		default:
			logger.Infow("capture event", "event", ev.String())
		}
	}
	return nil
}
