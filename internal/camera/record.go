package camera

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/visiona/camcore/internal/hardware"
)

// RecordingState tracks the video recorder lifecycle.
type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingPaused
)

// String returns a human-readable name for the recording state.
func (s RecordingState) String() string {
	switch s {
	case RecordingActive:
		return "active"
	case RecordingPaused:
		return "paused"
	default:
		return "idle"
	}
}

// StartVideoRecording prepares an encoder for path, reconfigures the
// session around it and starts it. The camera counts as recording only
// once the encoder start succeeds.
func (c *Camera) StartVideoRecording(path string, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.startVideoRecording(path, done) }) {
		done(errDisposed())
	}
}

func (c *Camera) startVideoRecording(path string, done func(error)) {
	if c.device == nil {
		done(errNotOpen())
		return
	}
	if c.recState != RecordingIdle {
		done(newError(CodeRecordingFailed, "a recording is already in progress"))
		return
	}
	if _, err := os.Stat(path); err == nil {
		done(newError(CodeFileExists, "file already exists at %s", path))
		return
	} else if !errors.Is(err, fs.ErrNotExist) {
		done(newError(CodeIOError, "checking destination %s: %v", path, err))
		return
	}

	rec, err := c.newRecorder(c.profile, path, c.mediaOrientation())
	if err != nil {
		done(newError(CodeIOError, "preparing recorder: %v", err))
		return
	}
	c.recorder = rec

	abort := func(err error) {
		rec.Release()
		c.recorder = nil
		done(err)
	}
	err = c.createSession(hardware.TemplateRecord,
		func() {
			if err := rec.Start(); err != nil {
				abort(newError(CodeRecordingFailed, "starting recorder: %v", err))
				return
			}
			slog.Info("camera: recording started", "name", c.name, "path", path)
			c.recState = RecordingActive
			done(nil)
		},
		abort,
		rec.Target())
	if err != nil {
		abort(err)
	}
}

// StopVideoRecording finalizes the output file and returns the session
// to preview. Stopping an idle camera succeeds without doing anything.
func (c *Camera) StopVideoRecording(done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.stopVideoRecording(done) }) {
		done(errDisposed())
	}
}

func (c *Camera) stopVideoRecording(done func(error)) {
	if c.recState == RecordingIdle {
		done(nil)
		return
	}
	if err := c.recorder.Stop(); err != nil {
		// the encoder may still finalize on retry; keep the state
		done(newError(CodeRecordingFailed, "stopping recorder: %v", err))
		return
	}
	c.recState = RecordingIdle
	if err := c.recorder.Reset(); err != nil {
		slog.Warn("camera: resetting recorder", "error", err)
	}
	c.recorder.Release()
	c.recorder = nil

	err := c.startPreview(
		func() { done(nil) },
		func(err error) { done(err) },
	)
	if err != nil {
		done(err)
	}
}

// PauseVideoRecording pauses an active recording. Pausing when not
// actively recording succeeds without doing anything.
func (c *Camera) PauseVideoRecording(done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.pauseVideoRecording(done) }) {
		done(errDisposed())
	}
}

func (c *Camera) pauseVideoRecording(done func(error)) {
	if c.recState != RecordingActive {
		done(nil)
		return
	}
	if !c.recorder.SupportsPause() {
		done(newError(CodeRecordingFailed, "this recorder does not support pausing"))
		return
	}
	if err := c.recorder.Pause(); err != nil {
		done(newError(CodeRecordingFailed, "pausing recorder: %v", err))
		return
	}
	c.recState = RecordingPaused
	done(nil)
}

// ResumeVideoRecording resumes a paused recording. Resuming when not
// paused succeeds without doing anything.
func (c *Camera) ResumeVideoRecording(done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.resumeVideoRecording(done) }) {
		done(errDisposed())
	}
}

func (c *Camera) resumeVideoRecording(done func(error)) {
	if c.recState != RecordingPaused {
		done(nil)
		return
	}
	if !c.recorder.SupportsPause() {
		done(newError(CodeRecordingFailed, "this recorder does not support pausing"))
		return
	}
	if err := c.recorder.Resume(); err != nil {
		done(newError(CodeRecordingFailed, "resuming recorder: %v", err))
		return
	}
	c.recState = RecordingActive
	done(nil)
}
