package types

import "time"

// PlaneData is one image plane in a transport-ready frame payload.
type PlaneData struct {
	// BytesPerRow is the row stride in bytes
	BytesPerRow int `json:"bytesPerRow" msgpack:"bytesPerRow"`
	// BytesPerPixel is the pixel stride within a row
	BytesPerPixel int `json:"bytesPerPixel" msgpack:"bytesPerPixel"`
	// Bytes holds the plane's pixel data, copied out of the hardware buffer
	Bytes []byte `json:"bytes" msgpack:"bytes"`
}

// FramePayload is a single streamed frame, detached from any hardware
// buffer so it can outlive the buffer's release.
type FramePayload struct {
	// Seq is the monotonic sequence number within a stream subscription
	Seq uint64 `json:"seq" msgpack:"seq"`
	// Timestamp is when the frame was extracted
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	// Width in pixels
	Width int `json:"width" msgpack:"width"`
	// Height in pixels
	Height int `json:"height" msgpack:"height"`
	// Format names the pixel layout ("yuv420", "jpeg")
	Format string `json:"format" msgpack:"format"`
	// Planes are the image planes in layout order
	Planes []PlaneData `json:"planes" msgpack:"planes"`
}

// Size returns the total payload byte count across planes.
func (f *FramePayload) Size() int {
	n := 0
	for i := range f.Planes {
		n += len(f.Planes[i].Bytes)
	}
	return n
}
