// Package emitter publishes camera events and streamed frames to the
// MQTT broker. Events go out as JSON; frames as msgpack.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/visiona/camcore/internal/config"
	"github.com/visiona/camcore/internal/types"
)

// Event is a camera-initiated notification published on the events topic.
type Event struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// MQTTMessenger publishes events and frames to the MQTT broker. It
// implements the camera's Messenger and FrameSink contracts. SendFrame
// never blocks; events publish inline with a short timeout.
type MQTTMessenger struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	// single-slot frame mailbox, latest wins
	frames chan types.FramePayload
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	dropped   uint64
	errors    uint64
	connected bool
}

// NewMQTTMessenger creates a new MQTT messenger
func NewMQTTMessenger(cfg *config.Config) *MQTTMessenger {
	return &MQTTMessenger{
		cfg:       cfg,
		frames:    make(chan types.FramePayload, 1),
		stop:      make(chan struct{}),
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker and starts the
// frame pump.
func (e *MQTTMessenger) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.pumpFrames()

	return nil
}

// SendError publishes a camera fault on the events topic.
func (e *MQTTMessenger) SendError(description string) {
	e.publishEvent(Event{Type: "error", Description: description})
}

// SendClosing announces camera shutdown on the events topic.
func (e *MQTTMessenger) SendClosing() {
	e.publishEvent(Event{Type: "camera_closing"})
}

func (e *MQTTMessenger) publishEvent(ev Event) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return
	}
	topic := e.cfg.MQTT.Topics.Events
	if err := e.publish(topic, e.qos("events"), payload); err != nil {
		slog.Warn("emitter: event publish failed", "type", ev.Type, "error", err)
	}
}

// SendFrame hands a streamed frame to the pump. The mailbox holds one
// frame; a new frame displaces an unpublished older one, so a slow
// broker only costs freshness, never backpressure on the camera.
func (e *MQTTMessenger) SendFrame(frame types.FramePayload) {
	for {
		select {
		case e.frames <- frame:
			return
		default:
		}
		select {
		case <-e.frames:
			e.mu.Lock()
			e.dropped++
			e.mu.Unlock()
		default:
		}
	}
}

func (e *MQTTMessenger) pumpFrames() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case frame := <-e.frames:
			payload, err := msgpack.Marshal(&frame)
			if err != nil {
				e.countError()
				slog.Warn("emitter: frame encode failed", "error", err)
				continue
			}
			topic := e.cfg.MQTT.Topics.Frames
			if err := e.publish(topic, e.qos("frames"), payload); err != nil {
				slog.Debug("emitter: frame publish failed", "error", err)
				continue
			}
			slog.Debug("emitter: frame published",
				"topic", topic,
				"seq", frame.Seq,
				"size", len(payload))
		}
	}
}

func (e *MQTTMessenger) publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}
	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// Disconnect stops the frame pump and closes the MQTT connection
func (e *MQTTMessenger) Disconnect() error {
	close(e.stop)
	e.wg.Wait()

	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats contains messenger statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// Stats returns messenger statistics
func (e *MQTTMessenger) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTMessenger) qos(kind string) byte {
	return e.cfg.MQTT.QoS[kind]
}

func (e *MQTTMessenger) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTMessenger) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
