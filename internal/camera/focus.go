package camera

import (
	"github.com/google/uuid"

	"github.com/visiona/camcore/internal/hardware"
)

// Point is a viewfinder coordinate normalized to [0, 1] on both axes.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AcquireFocus runs a metered autofocus sweep at the given viewfinder
// point. The sweep is single-flight: a request issued while one is in
// flight completes immediately without starting another. done fires when
// the correlated sweep result arrives.
func (c *Camera) AcquireFocus(p Point, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.acquireFocus(p, done) }) {
		done(errDisposed())
	}
}

func (c *Camera) acquireFocus(p Point, done func(error)) {
	if c.session == nil {
		done(errNotOpen())
		return
	}
	if c.acquiringFocus {
		done(nil)
		return
	}
	if !c.chars.HasAutoFocus() {
		done(newError(CodeFocusFailed, "the device does not support autofocus"))
		return
	}

	gen := c.generation
	tag := uuid.New().String()
	if err := c.session.StopRepeating(); err != nil {
		done(newError(CodeFocusFailed, "stopping repeating request: %v", err))
		return
	}

	// drop out of continuous autofocus before the metered sweep
	c.repeating.AFTrigger = hardware.AFTriggerCancel
	c.repeating.AFMode = hardware.AFModeOff
	if err := c.session.Capture(c.repeating.Clone(), hardware.ResultHandler{}); err != nil {
		c.restoreFocusPolicy(gen)
		done(newError(CodeFocusFailed, "canceling continuous autofocus: %v", err))
		return
	}

	if c.chars.MaxAFRegions >= 1 {
		sx, sy := sensorPoint(p, c.chars.SensorOrientation)
		c.repeating.AFRegions = []hardware.Rect{meteringRect(sx, sy, c.chars.ActiveArray)}
	}
	c.repeating.ControlMode = hardware.ControlModeAuto
	c.repeating.AFMode = hardware.AFModeAuto
	c.repeating.AFTrigger = hardware.AFTriggerStart
	c.repeating.Tag = tag
	h := hardware.ResultHandler{
		OnCompleted: func(_ *hardware.Request, res hardware.Result) {
			c.post(func() { c.onFocusResult(gen, res.Tag) })
		},
		OnFailed: func(_ *hardware.Request, f hardware.Failure) {
			c.post(func() { c.onFocusFailed(gen, f) })
		},
	}
	err := c.session.Capture(c.repeating.Clone(), h)
	c.repeating.Tag = ""
	c.repeating.AFTrigger = hardware.AFTriggerIdle
	if err != nil {
		c.repeating.AFRegions = nil
		c.restoreFocusPolicy(gen)
		done(newError(CodeFocusFailed, "submitting focus sweep: %v", err))
		return
	}
	c.acquiringFocus = true
	c.focusTag = tag
	c.focusDone = done
}

// onFocusResult completes the sweep only when the result's tag matches
// the in-flight sweep. Results from stale or untagged captures leave the
// in-flight state alone.
func (c *Camera) onFocusResult(gen uint64, tag string) {
	if gen != c.generation {
		return
	}
	if !c.acquiringFocus || tag == "" || tag != c.focusTag {
		return
	}
	c.acquiringFocus = false
	c.focusTag = ""
	done := c.focusDone
	c.focusDone = nil

	// hold the metered lock; the region persists until the next policy
	// change or session replacement
	c.repeating.AFTrigger = hardware.AFTriggerIdle
	if err := c.session.SetRepeating(c.repeating.Clone(), c.resultHandler(gen)); err != nil {
		done(newError(CodeFocusFailed, "resuming preview after focus: %v", err))
		return
	}
	done(nil)
}

// onFocusFailed reports the failure on both channels: the event stream
// and the command's done callback.
func (c *Camera) onFocusFailed(gen uint64, f hardware.Failure) {
	if gen != c.generation || !c.acquiringFocus {
		return
	}
	c.acquiringFocus = false
	c.focusTag = ""
	done := c.focusDone
	c.focusDone = nil

	c.messenger.SendError("acquiring focus failed: " + f.Reason.String())
	c.repeating.AFRegions = nil
	c.restoreFocusPolicy(gen)
	done(newError(CodeFocusFailed, "%s", f.Reason))
}

// restoreFocusPolicy puts the repeating template back on the configured
// autofocus policy and resumes it.
func (c *Camera) restoreFocusPolicy(gen uint64) {
	c.repeating.AFTrigger = hardware.AFTriggerIdle
	c.applyAutoFocus()
	if c.session == nil {
		return
	}
	if err := c.session.SetRepeating(c.repeating.Clone(), c.resultHandler(gen)); err != nil {
		c.messenger.SendError("resuming preview failed: " + err.Error())
	}
}

// sensorPoint rotates a viewfinder point into the sensor's coordinate
// frame.
func sensorPoint(p Point, sensorOrientation int) (float64, float64) {
	switch ((sensorOrientation % 360) + 360) % 360 {
	case 90:
		return p.Y, 1 - p.X
	case 180:
		return 1 - p.X, 1 - p.Y
	case 270:
		return 1 - p.Y, p.X
	default:
		return p.X, p.Y
	}
}

// meteringRect builds a metering rectangle a tenth of the active array
// on each side, centered on the point and clamped into the array bounds.
func meteringRect(x, y float64, area hardware.Rect) hardware.Rect {
	w := area.Width / 10
	h := area.Height / 10
	r := hardware.Rect{
		X:      area.X + int(x*float64(area.Width)) - w/2,
		Y:      area.Y + int(y*float64(area.Height)) - h/2,
		Width:  w,
		Height: h,
	}
	if r.X < area.X {
		r.X = area.X
	}
	if r.Y < area.Y {
		r.Y = area.Y
	}
	if r.X+r.Width > area.X+area.Width {
		r.X = area.X + area.Width - r.Width
	}
	if r.Y+r.Height > area.Y+area.Height {
		r.Y = area.Y + area.Height - r.Height
	}
	return r
}
