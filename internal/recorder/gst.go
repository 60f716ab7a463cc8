// Package recorder implements the video encoder as a GStreamer
// pipeline: appsrc → videoconvert → x264enc → mp4mux → filesink.
package recorder

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/visiona/camcore/internal/hardware"
)

// eosTimeout bounds how long Stop waits for the muxer to finalize.
const eosTimeout = 5 * time.Second

// GstRecorder encodes pushed raw frames into an MP4 file.
type GstRecorder struct {
	path     string
	pipeline *gst.Pipeline
	src      *app.Source
	target   *sourceTarget

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a prepared pipeline writing to path. The pipeline stays in
// the NULL state until Start. It satisfies hardware.RecorderFactory.
func New(profile hardware.Profile, path string, orientation int) (hardware.Recorder, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create appsrc: %w", err)
	}
	src.SetProperty("is-live", true)
	src.SetProperty("format", 3) // GST_FORMAT_TIME
	src.SetProperty("do-timestamp", true)
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		profile.CaptureWidth, profile.CaptureHeight, profile.FrameRate)
	src.SetCaps(gst.NewCapsFromString(capsStr))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create videoconvert: %w", err)
	}

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create x264enc: %w", err)
	}
	encoder.SetProperty("bitrate", uint(profile.BitRate/1000)) // kbit/s
	encoder.SetProperty("speed-preset", 1)                     // ultrafast
	encoder.SetProperty("tune", 4)                             // zerolatency

	muxer, err := gst.NewElement("mp4mux")
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create mp4mux: %w", err)
	}

	sink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, fmt.Errorf("recorder: failed to create filesink: %w", err)
	}
	sink.SetProperty("location", path)

	if err := pipeline.AddMany(src.Element, converter, encoder, muxer, sink); err != nil {
		return nil, fmt.Errorf("recorder: failed to assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, converter, encoder, muxer, sink); err != nil {
		return nil, fmt.Errorf("recorder: failed to link pipeline: %w", err)
	}

	r := &GstRecorder{
		path:     path,
		pipeline: pipeline,
		src:      src,
	}
	r.target = &sourceTarget{rec: r}

	slog.Debug("recorder: pipeline prepared",
		"path", path,
		"caps", capsStr,
		"bitrate_kbps", profile.BitRate/1000,
		"orientation", orientation)
	return r, nil
}

// Target implements hardware.Recorder.
func (r *GstRecorder) Target() hardware.Target { return r.target }

// Start implements hardware.Recorder.
func (r *GstRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("recorder: already finalized")
	}
	if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("recorder: failed to start pipeline: %w", err)
	}
	r.started = true
	slog.Info("recorder: started", "path", r.path)
	return nil
}

// Pause implements hardware.Recorder.
func (r *GstRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("recorder: not started")
	}
	if err := r.pipeline.SetState(gst.StatePaused); err != nil {
		return fmt.Errorf("recorder: failed to pause pipeline: %w", err)
	}
	return nil
}

// Resume implements hardware.Recorder.
func (r *GstRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("recorder: not started")
	}
	if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("recorder: failed to resume pipeline: %w", err)
	}
	return nil
}

// Stop implements hardware.Recorder. It drains the pipeline with an EOS
// so the muxer writes a playable file before the state drops to NULL.
func (r *GstRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return nil
	}
	r.stopped = true

	r.src.EndStream()
	bus := r.pipeline.GetPipelineBus()
	deadline := time.Now().Add(eosTimeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageEOS {
			break
		}
		if msg.Type() == gst.MessageError {
			slog.Warn("recorder: pipeline error while finalizing", "message", msg.String())
			break
		}
	}

	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("recorder: failed to stop pipeline: %w", err)
	}
	slog.Info("recorder: finalized", "path", r.path)
	return nil
}

// Reset implements hardware.Recorder. The pipeline is single-use; Reset
// only drops it to NULL.
func (r *GstRecorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("recorder: failed to reset pipeline: %w", err)
	}
	r.started = false
	return nil
}

// Release implements hardware.Recorder.
func (r *GstRecorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline.SetState(gst.StateNull)
}

// SupportsPause implements hardware.Recorder.
func (r *GstRecorder) SupportsPause() bool { return true }

// sourceTarget feeds rendered frames into the appsrc.
type sourceTarget struct {
	rec *GstRecorder

	mu     sync.Mutex
	width  int
	height int
}

// SetBufferSize implements hardware.Target.
func (t *sourceTarget) SetBufferSize(width, height int) {
	t.mu.Lock()
	t.width, t.height = width, height
	t.mu.Unlock()
}

// PushFrame pushes one raw RGB frame into the encoder.
func (t *sourceTarget) PushFrame(data []byte) error {
	t.rec.mu.Lock()
	ok := t.rec.started && !t.rec.stopped
	t.rec.mu.Unlock()
	if !ok {
		return fmt.Errorf("recorder: not accepting frames")
	}
	buf := gst.NewBufferFromBytes(data)
	if ret := t.rec.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("recorder: push returned %v", ret)
	}
	return nil
}
