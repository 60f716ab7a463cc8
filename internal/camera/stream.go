package camera

import (
	"time"

	"github.com/visiona/camcore/internal/hardware"
	"github.com/visiona/camcore/internal/types"
)

// FrameSink receives extracted frames from the image stream. Send runs
// on the dispatch goroutine, so a sink that can block must hand the
// payload off instead of publishing inline.
type FrameSink interface {
	Send(frame types.FramePayload)
}

// FrameSinkFunc adapts a function to the FrameSink interface.
type FrameSinkFunc func(frame types.FramePayload)

// Send implements FrameSink.
func (f FrameSinkFunc) Send(frame types.FramePayload) { f(frame) }

// StartImageStream reconfigures the session for sustained throughput and
// delivers frames to sink. Only the newest frame is ever delivered;
// frames produced while one is being extracted are dropped.
func (c *Camera) StartImageStream(sink FrameSink, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.startImageStream(sink, done) }) {
		done(errDisposed())
	}
}

func (c *Camera) startImageStream(sink FrameSink, done func(error)) {
	if c.device == nil {
		done(errNotOpen())
		return
	}
	if sink == nil {
		done(newError(CodeCameraAccess, "a frame sink is required"))
		return
	}
	err := c.createSession(hardware.TemplateRecord,
		func() {
			c.frameSink = sink
			c.frameSeq = 0
			gen := c.generation
			c.streamReader.OnFrameAvailable(func() {
				c.post(func() { c.onStreamFrame(gen) })
			})
			done(nil)
		},
		func(err error) { done(err) },
		c.streamReader.Target())
	if err != nil {
		done(err)
	}
}

func (c *Camera) onStreamFrame(gen uint64) {
	if gen != c.generation || c.frameSink == nil {
		return
	}
	frame := c.streamReader.AcquireLatest()
	if frame == nil {
		return
	}
	payload := extractFrame(frame)
	frame.Release()
	c.frameSeq++
	payload.Seq = c.frameSeq
	c.frameSink.Send(payload)
}

// StopImageStream detaches the sink. The session keeps its current
// configuration; only frame delivery stops.
func (c *Camera) StopImageStream(done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.stopImageStream(done) }) {
		done(errDisposed())
	}
}

func (c *Camera) stopImageStream(done func(error)) {
	if c.frameSink == nil {
		done(nil)
		return
	}
	c.streamReader.OnFrameAvailable(nil)
	c.frameSink = nil
	done(nil)
}

// extractFrame copies a hardware frame into a payload that survives the
// buffer's release.
func extractFrame(f hardware.RawFrame) types.FramePayload {
	planes := f.Planes()
	out := make([]types.PlaneData, 0, len(planes))
	for _, p := range planes {
		out = append(out, types.PlaneData{
			BytesPerRow:   p.RowStride,
			BytesPerPixel: p.PixelStride,
			Bytes:         append([]byte(nil), p.Bytes...),
		})
	}
	return types.FramePayload{
		Timestamp: time.Now(),
		Width:     f.Width(),
		Height:    f.Height(),
		Format:    f.Format().String(),
		Planes:    out,
	}
}
