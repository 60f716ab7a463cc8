package config

import (
	"fmt"
	"regexp"

	"github.com/visiona/camcore/internal/hardware"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Camera.Device == "" {
		return fmt.Errorf("camera.device is required")
	}
	if cfg.Camera.Preset == "" {
		cfg.Camera.Preset = string(hardware.PresetMedium)
	}
	if _, err := hardware.ParsePreset(cfg.Camera.Preset); err != nil {
		return fmt.Errorf("camera.preset: %w", err)
	}
	switch cfg.Camera.Recorder {
	case "":
		cfg.Camera.Recorder = "gst"
	case "gst", "sim":
	default:
		return fmt.Errorf("camera.recorder must be 'gst' or 'sim', got %q", cfg.Camera.Recorder)
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("camcore/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = fmt.Sprintf("camcore/responses/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("camcore/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Frames == "" {
		cfg.MQTT.Topics.Frames = fmt.Sprintf("camcore/frames/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":   1,
			"responses": 1,
			"events":    1,
			"frames":    0,
		}
	}

	return nil
}
