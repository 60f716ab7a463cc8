package types

import "testing"

func TestFramePayloadSize(t *testing.T) {
	f := FramePayload{
		Planes: []PlaneData{
			{Bytes: make([]byte, 100)},
			{Bytes: make([]byte, 25)},
			{Bytes: make([]byte, 25)},
		},
	}
	if got := f.Size(); got != 150 {
		t.Errorf("Size() = %d, want 150", got)
	}

	var empty FramePayload
	if got := empty.Size(); got != 0 {
		t.Errorf("Size() of empty payload = %d, want 0", got)
	}
}
