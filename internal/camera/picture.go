package camera

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/visiona/camcore/internal/hardware"
)

// LockState tracks the still-capture focus/exposure lock sequence.
type LockState int

const (
	// StatePreview is the resting state; no capture in flight.
	StatePreview LockState = iota
	// StateWaitingLock waits for the autofocus sweep to lock.
	StateWaitingLock
	// StateWaitingPrecapture waits for precapture metering to start.
	StateWaitingPrecapture
	// StateWaitingPrecaptureDone waits for precapture metering to finish.
	StateWaitingPrecaptureDone
	// StateCaptured means the still request has been submitted.
	StateCaptured
)

// String returns a human-readable name for the lock state.
func (s LockState) String() string {
	switch s {
	case StatePreview:
		return "preview"
	case StateWaitingLock:
		return "waiting_lock"
	case StateWaitingPrecapture:
		return "waiting_precapture"
	case StateWaitingPrecaptureDone:
		return "waiting_precapture_done"
	case StateCaptured:
		return "captured"
	default:
		return "unknown"
	}
}

type pendingCapture struct {
	path string
	done func(error)
}

// TakePicture captures a still image to path. At most one capture may be
// pending; a second request is rejected rather than queued. done fires
// after the image is written, or with the categorized failure.
func (c *Camera) TakePicture(path string, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.takePicture(path, done) }) {
		done(errDisposed())
	}
}

func (c *Camera) takePicture(path string, done func(error)) {
	if c.session == nil {
		done(errNotOpen())
		return
	}
	if c.pending != nil {
		done(newError(CodeCaptureInProgress, "a capture request is already pending"))
		return
	}
	// reject the destination before touching the hardware
	if _, err := os.Stat(path); err == nil {
		done(newError(CodeFileExists, "file already exists at %s", path))
		return
	} else if !errors.Is(err, fs.ErrNotExist) {
		done(newError(CodeIOError, "checking destination %s: %v", path, err))
		return
	}

	c.pending = &pendingCapture{path: path, done: done}
	if resolveAutoFocus(c.autoFocus, c.chars) != hardware.AFModeOff {
		c.lockFocus()
	} else {
		c.captureStill()
	}
}

// lockFocus starts the autofocus sweep. The trigger stays in the
// repeating template until unlockFocus clears it.
func (c *Camera) lockFocus() {
	c.lockState = StateWaitingLock
	c.repeating.AFTrigger = hardware.AFTriggerStart
	if err := c.session.Capture(c.repeating.Clone(), c.resultHandler(c.generation)); err != nil {
		c.failPending(newError(CodeCaptureFailure, "triggering autofocus lock: %v", err))
		c.unlockFocus()
	}
}

// onResult advances the lock machine on convergence reports. Results
// from a superseded session are dropped.
func (c *Camera) onResult(gen uint64, res hardware.Result) {
	if gen != c.generation {
		return
	}
	switch c.lockState {
	case StateWaitingLock:
		if res.AFState != hardware.AFStateFocusedLocked && res.AFState != hardware.AFStateNotFocusedLocked {
			return
		}
		// a device that never reports exposure state skips metering
		if res.AEState == hardware.AEStateUnknown || res.AEState == hardware.AEStateConverged {
			c.captureStill()
		} else {
			c.runPrecapture()
		}
	case StateWaitingPrecapture:
		switch res.AEState {
		case hardware.AEStatePrecapture, hardware.AEStateFlashRequired, hardware.AEStateUnknown:
			c.lockState = StateWaitingPrecaptureDone
		case hardware.AEStateConverged:
			// metering finished before the start was observed
			c.captureStill()
		}
	case StateWaitingPrecaptureDone:
		if res.AEState != hardware.AEStatePrecapture {
			c.captureStill()
		}
	}
}

// runPrecapture fires the exposure metering trigger. The trigger is
// one-shot: it rides on a single capture and never enters the repeating
// template.
func (c *Camera) runPrecapture() {
	c.lockState = StateWaitingPrecapture
	c.repeating.AETrigger = hardware.AETriggerStart
	err := c.session.Capture(c.repeating.Clone(), c.resultHandler(c.generation))
	c.repeating.AETrigger = hardware.AETriggerIdle
	if err != nil {
		c.failPending(newError(CodeCaptureFailure, "triggering precapture metering: %v", err))
		c.unlockFocus()
	}
}

// captureStill stops the repeating request and submits the high
// resolution still. The backend delivers the image to the picture reader
// before reporting completion, so by the time unlockFocus runs a still
// pending request means the capture produced nothing.
func (c *Camera) captureStill() {
	c.lockState = StateCaptured
	gen := c.generation
	c.pictureReader.OnFrameAvailable(func() {
		c.post(func() { c.onStillFrame(gen) })
	})

	req := &hardware.Request{
		Template:    hardware.TemplateStill,
		Targets:     []hardware.Target{c.pictureReader.Target()},
		ControlMode: hardware.ControlModeAuto,
		AFMode:      c.repeating.AFMode,
		Orientation: c.mediaOrientation(),
	}
	applyFlash(req, c.flash)

	if err := c.session.StopRepeating(); err != nil {
		c.failPending(newError(CodeCaptureFailure, "stopping repeating request: %v", err))
		c.unlockFocus()
		return
	}
	h := hardware.ResultHandler{
		OnCompleted: func(_ *hardware.Request, _ hardware.Result) {
			c.post(func() {
				if gen != c.generation {
					return
				}
				c.unlockFocus()
			})
		},
		OnFailed: func(_ *hardware.Request, f hardware.Failure) {
			c.post(func() {
				if gen != c.generation {
					return
				}
				c.failPending(newError(CodeCaptureFailure, "%s", f.Reason))
				c.unlockFocus()
			})
		},
	}
	if err := c.session.Capture(req, h); err != nil {
		c.failPending(newError(CodeCaptureFailure, "submitting still capture: %v", err))
		c.unlockFocus()
	}
}

// onStillFrame persists the delivered image and completes the pending
// request.
func (c *Camera) onStillFrame(gen uint64) {
	if gen != c.generation || c.pending == nil {
		return
	}
	frame := c.pictureReader.AcquireLatest()
	if frame == nil {
		return
	}
	var data []byte
	if planes := frame.Planes(); len(planes) > 0 {
		data = planes[0].Bytes
	}
	err := os.WriteFile(c.pending.path, data, 0o644)
	frame.Release()
	if err != nil {
		c.failPending(newError(CodeIOError, "writing capture to %s: %v", c.pending.path, err))
		return
	}
	done := c.pending.done
	c.pending = nil
	done(nil)
}

// unlockFocus cancels the focus lock, restores the configured policy and
// resumes the repeating request. It runs exactly once per capture
// attempt, on completion and on every failure path.
func (c *Camera) unlockFocus() {
	c.lockState = StatePreview
	if c.pictureReader != nil {
		c.pictureReader.OnFrameAvailable(nil)
	}
	if c.session == nil {
		c.failPending(newError(CodeCaptureFailure, "the session was closed during capture"))
		return
	}
	c.repeating.AFTrigger = hardware.AFTriggerCancel
	if err := c.session.Capture(c.repeating.Clone(), hardware.ResultHandler{}); err != nil {
		slog.Warn("camera: canceling autofocus trigger", "error", err)
	}
	c.repeating.AFTrigger = hardware.AFTriggerIdle
	c.applyAutoFocus()
	applyFlash(c.repeating, c.flash)
	if err := c.session.SetRepeating(c.repeating.Clone(), c.resultHandler(c.generation)); err != nil {
		c.messenger.SendError("resuming preview failed: " + err.Error())
	}
	c.failPending(newError(CodeCaptureFailure, "the capture completed without producing an image"))
}

// failPending completes the pending capture with err, if one is set.
func (c *Camera) failPending(err error) {
	if c.pending == nil {
		return
	}
	done := c.pending.done
	c.pending = nil
	done(err)
}
