// Package control is the MQTT command channel of the daemon: it parses
// JSON commands, invokes the wired camera callbacks and publishes JSON
// responses.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/camcore/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks contains callback functions for commands. Callbacks run on
// the handler's processing goroutine and may block until the camera
// completes the command.
type Callbacks struct {
	OnOpen             func() (map[string]interface{}, error)
	OnClose            func() error
	OnTakePicture      func(path string) error
	OnStartVideo       func(path string) error
	OnStopVideo        func() error
	OnPauseVideo       func() error
	OnResumeVideo      func() error
	OnStartImageStream func() error
	OnStopImageStream  func() error
	OnAcquireFocus     func(x, y float64) error
	OnSetFlash         func(mode string) error
	OnSetAutoFocus     func(enabled bool) error
	OnSetOrientation   func(degrees int) error
	OnGetStatus        func() map[string]interface{}
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks Callbacks

	mu      sync.Mutex
	stopped bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler. Messages still in flight from
// the broker after Stop are dropped. Stopping twice is a no-op.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	topic := h.cfg.MQTT.Topics.Control
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		slog.Warn("handler stopped, dropping command", "command", cmd.Command)
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands runs commands one at a time, in arrival order
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "open":
		if h.callbacks.OnOpen == nil {
			resp.Status = "error"
			resp.Error = "open not implemented"
			break
		}
		data, err := h.callbacks.OnOpen()
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = data
		}

	case "close":
		h.simple(&resp, h.callbacks.OnClose)

	case "take_picture":
		h.withPath(&resp, cmd, h.callbacks.OnTakePicture)

	case "start_video":
		h.withPath(&resp, cmd, h.callbacks.OnStartVideo)

	case "stop_video":
		h.simple(&resp, h.callbacks.OnStopVideo)

	case "pause_video":
		h.simple(&resp, h.callbacks.OnPauseVideo)

	case "resume_video":
		h.simple(&resp, h.callbacks.OnResumeVideo)

	case "start_image_stream":
		h.simple(&resp, h.callbacks.OnStartImageStream)

	case "stop_image_stream":
		h.simple(&resp, h.callbacks.OnStopImageStream)

	case "acquire_focus":
		if h.callbacks.OnAcquireFocus == nil {
			resp.Status = "error"
			resp.Error = "acquire_focus not implemented"
			break
		}
		x, okX := cmd.Params["x"].(float64)
		y, okY := cmd.Params["y"].(float64)
		if !okX || !okY {
			resp.Status = "error"
			resp.Error = "missing or invalid 'x'/'y' parameters (expected numbers in [0,1])"
			break
		}
		if err := h.callbacks.OnAcquireFocus(x, y); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
		}

	case "set_flash":
		if h.callbacks.OnSetFlash == nil {
			resp.Status = "error"
			resp.Error = "set_flash not implemented"
			break
		}
		mode, ok := cmd.Params["mode"].(string)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'mode' parameter (expected string: off/auto/always/torch)"
			break
		}
		if err := h.callbacks.OnSetFlash(mode); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"mode": mode}
		}

	case "set_auto_focus":
		if h.callbacks.OnSetAutoFocus == nil {
			resp.Status = "error"
			resp.Error = "set_auto_focus not implemented"
			break
		}
		enabled, ok := cmd.Params["enabled"].(bool)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'enabled' parameter (expected boolean)"
			break
		}
		if err := h.callbacks.OnSetAutoFocus(enabled); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"enabled": enabled}
		}

	case "set_orientation":
		if h.callbacks.OnSetOrientation == nil {
			resp.Status = "error"
			resp.Error = "set_orientation not implemented"
			break
		}
		degrees, ok := cmd.Params["degrees"].(float64)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'degrees' parameter (expected number)"
			break
		}
		if err := h.callbacks.OnSetOrientation(int(degrees)); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
		}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// simple runs a parameterless callback into the response.
func (h *Handler) simple(resp *Response, fn func() error) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
	} else {
		resp.Status = "success"
	}
}

// withPath runs a callback taking a destination path parameter.
func (h *Handler) withPath(resp *Response, cmd Command, fn func(string) error) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	path, ok := cmd.Params["path"].(string)
	if !ok || path == "" {
		resp.Status = "error"
		resp.Error = "missing or invalid 'path' parameter (expected string)"
		return
	}
	if err := fn(path); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
	} else {
		resp.Status = "success"
		resp.Data = map[string]interface{}{"path": path}
	}
}

// sendResponse publishes a command response
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Responses
	qos := h.cfg.MQTT.QoS["responses"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("response publish timeout", "command", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("response publish failed", "command", resp.CommandAck, "error", err)
	}
}
