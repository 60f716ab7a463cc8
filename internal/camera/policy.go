package camera

import (
	"fmt"

	"github.com/visiona/camcore/internal/hardware"
)

// FlashMode is the user-facing flash policy.
type FlashMode string

const (
	// FlashModeOff never fires the flash.
	FlashModeOff FlashMode = "off"
	// FlashModeAuto lets the exposure pipeline decide.
	FlashModeAuto FlashMode = "auto"
	// FlashModeAlways fires the flash on every still capture.
	FlashModeAlways FlashMode = "always"
	// FlashModeTorch holds the flash on continuously.
	FlashModeTorch FlashMode = "torch"
)

// ParseFlashMode validates a flash mode name from the control plane.
func ParseFlashMode(s string) (FlashMode, error) {
	switch m := FlashMode(s); m {
	case FlashModeOff, FlashModeAuto, FlashModeAlways, FlashModeTorch:
		return m, nil
	default:
		return "", fmt.Errorf("camera: unknown flash mode %q", s)
	}
}

// applyFlash folds a flash policy into a request's exposure and flash
// fields. Each mode fully determines both fields, so switching modes
// never leaves residue from the previous one.
func applyFlash(req *hardware.Request, mode FlashMode) {
	switch mode {
	case FlashModeAlways:
		req.AEMode = hardware.AEModeOnAlwaysFlash
		req.FlashMode = hardware.FlashSingle
	case FlashModeTorch:
		req.AEMode = hardware.AEModeOn
		req.FlashMode = hardware.FlashTorch
	case FlashModeAuto:
		req.AEMode = hardware.AEModeOnAutoFlash
		req.FlashMode = hardware.FlashOff
	default:
		req.AEMode = hardware.AEModeOn
		req.FlashMode = hardware.FlashOff
	}
}

// resolveAutoFocus maps the requested autofocus setting onto what the
// device can actually do. A device without a real focus mode silently
// degrades to fixed focus instead of failing the command.
func resolveAutoFocus(enabled bool, chars hardware.Characteristics) hardware.AFMode {
	if !enabled || !chars.HasAutoFocus() {
		return hardware.AFModeOff
	}
	return hardware.AFModeContinuousPicture
}

// applyAutoFocus folds the current autofocus setting into the repeating
// template.
func (c *Camera) applyAutoFocus() {
	c.repeating.AFMode = resolveAutoFocus(c.autoFocus, c.chars)
}

func (c *Camera) setFlashMode(mode FlashMode, done func(error)) {
	if c.session == nil {
		done(errNotOpen())
		return
	}
	if mode == c.flash {
		done(nil)
		return
	}
	prev := c.flash
	c.flash = mode
	applyFlash(c.repeating, mode)
	if err := c.session.SetRepeating(c.repeating.Clone(), c.resultHandler(c.generation)); err != nil {
		c.flash = prev
		applyFlash(c.repeating, prev)
		done(newError(CodeCameraAccess, "applying flash mode: %v", err))
		return
	}
	done(nil)
}

func (c *Camera) setAutoFocus(enabled bool, done func(error)) {
	if c.session == nil {
		done(errNotOpen())
		return
	}
	if enabled == c.autoFocus {
		done(nil)
		return
	}
	prev := c.autoFocus
	c.autoFocus = enabled
	c.applyAutoFocus()
	if err := c.session.SetRepeating(c.repeating.Clone(), c.resultHandler(c.generation)); err != nil {
		c.autoFocus = prev
		c.applyAutoFocus()
		done(newError(CodeCameraAccess, "applying autofocus setting: %v", err))
		return
	}
	done(nil)
}

// SetFlashMode switches the flash policy on the live session. The
// in-memory setting rolls back if the session rejects the new template.
func (c *Camera) SetFlashMode(mode FlashMode, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.setFlashMode(mode, done) }) {
		done(errDisposed())
	}
}

// SetAutoFocus switches continuous autofocus on or off, with the same
// rollback behavior as SetFlashMode.
func (c *Camera) SetAutoFocus(enabled bool, done func(error)) {
	done = ensureDone(done)
	if !c.post(func() { c.setAutoFocus(enabled, done) }) {
		done(errDisposed())
	}
}
