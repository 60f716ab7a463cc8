package emitter

import (
	"testing"

	"github.com/visiona/camcore/internal/config"
	"github.com/visiona/camcore/internal/types"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		InstanceID: "test",
		Camera:     config.CameraConfig{Device: "cam0"},
		MQTT:       config.MQTTConfig{Broker: "localhost:1883"},
	}
	if err := config.Validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func TestSendFrameLatestWins(t *testing.T) {
	// the pump is not running, so the mailbox fills and newer frames
	// must displace older ones without blocking
	e := NewMQTTMessenger(testConfig())

	e.SendFrame(types.FramePayload{Seq: 1})
	e.SendFrame(types.FramePayload{Seq: 2})
	e.SendFrame(types.FramePayload{Seq: 3})

	select {
	case f := <-e.frames:
		if f.Seq != 3 {
			t.Errorf("mailbox holds seq %d, want 3", f.Seq)
		}
	default:
		t.Fatal("mailbox empty")
	}

	if stats := e.Stats(); stats.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", stats.Dropped)
	}
}

func TestSendErrorWithoutConnection(t *testing.T) {
	// events on a disconnected messenger are counted, not fatal
	e := NewMQTTMessenger(testConfig())
	e.SendError("lens cap on")

	if stats := e.Stats(); stats.Errors == 0 {
		t.Error("publish error not counted")
	}
}

func TestStatsSnapshotIsDetached(t *testing.T) {
	e := NewMQTTMessenger(testConfig())
	stats := e.Stats()
	stats.Published["bogus"] = 99

	if got := e.Stats().Published["bogus"]; got != 0 {
		t.Error("Stats shares internal map with caller")
	}
}
