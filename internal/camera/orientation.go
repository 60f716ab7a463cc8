package camera

import "github.com/visiona/camcore/internal/hardware"

// OrientationUnknown marks an unreported device orientation.
const OrientationUnknown = -1

// RoundOrientation snaps a device orientation reading to the nearest
// quarter turn. OrientationUnknown passes through unchanged.
func RoundOrientation(degrees int) int {
	if degrees == OrientationUnknown {
		return OrientationUnknown
	}
	d := ((degrees % 360) + 360) % 360
	return ((d + 45) / 90 * 90) % 360
}

// UpdateOrientation feeds a device orientation reading (degrees
// clockwise from natural orientation) into the camera. Safe to call from
// any goroutine; a disposed camera ignores the update.
func (c *Camera) UpdateOrientation(degrees int) {
	c.post(func() {
		c.orientation = RoundOrientation(degrees)
	})
}

// mediaOrientation computes the clockwise rotation to record into
// produced media so it plays back upright. Front-facing lenses mirror,
// so their offset is applied in the opposite direction.
func (c *Camera) mediaOrientation() int {
	offset := c.orientation
	if offset == OrientationUnknown {
		offset = 0
	}
	if c.chars.Facing == hardware.FacingFront {
		offset = -offset
	}
	return (offset + c.chars.SensorOrientation + 360) % 360
}
