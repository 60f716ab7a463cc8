package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/camcore/internal/config"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (fakeToken) Error() error { return nil }

// fakeClient records subscriptions and forwards published payloads to a
// channel the test can wait on.
type fakeClient struct {
	handler   mqtt.MessageHandler
	published chan publication
}

type publication struct {
	topic   string
	payload []byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(chan publication, 10)}
}

func (c *fakeClient) IsConnected() bool       { return true }
func (c *fakeClient) IsConnectionOpen() bool  { return true }
func (c *fakeClient) Connect() mqtt.Token     { return fakeToken{} }
func (c *fakeClient) Disconnect(quiesce uint) {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published <- publication{topic: topic, payload: payload.([]byte)}
	return fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.handler = callback
	return fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return fakeToken{} }

func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "camcore/control/test" }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

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

func startHandler(t *testing.T, cb Callbacks) (*fakeClient, *Handler) {
	t.Helper()
	client := newFakeClient()
	h := NewHandler(testConfig(), client, cb)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.Stop() })
	if client.handler == nil {
		t.Fatal("handler did not subscribe")
	}
	return client, h
}

func send(t *testing.T, client *fakeClient, cmd string, params map[string]interface{}) Response {
	t.Helper()
	payload, err := json.Marshal(Command{Command: cmd, Params: params})
	if err != nil {
		t.Fatal(err)
	}
	client.handler(client, &fakeMessage{payload: payload})

	select {
	case pub := <-client.published:
		var resp Response
		if err := json.Unmarshal(pub.payload, &resp); err != nil {
			t.Fatalf("unmarshaling response: %v", err)
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response published")
		return Response{}
	}
}

func TestTakePictureCommand(t *testing.T) {
	var gotPath string
	client, _ := startHandler(t, Callbacks{
		OnTakePicture: func(path string) error {
			gotPath = path
			return nil
		},
	})

	resp := send(t, client, "take_picture", map[string]interface{}{"path": "/tmp/a.jpg"})
	if resp.Status != "success" {
		t.Fatalf("status = %s (%s), want success", resp.Status, resp.Error)
	}
	if resp.CommandAck != "take_picture" {
		t.Errorf("command_ack = %s", resp.CommandAck)
	}
	if gotPath != "/tmp/a.jpg" {
		t.Errorf("path = %s", gotPath)
	}
}

func TestTakePictureMissingPath(t *testing.T) {
	client, _ := startHandler(t, Callbacks{
		OnTakePicture: func(string) error { return nil },
	})
	resp := send(t, client, "take_picture", nil)
	if resp.Status != "error" {
		t.Fatalf("status = %s, want error", resp.Status)
	}
}

func TestAcquireFocusParams(t *testing.T) {
	var gotX, gotY float64
	client, _ := startHandler(t, Callbacks{
		OnAcquireFocus: func(x, y float64) error {
			gotX, gotY = x, y
			return nil
		},
	})

	resp := send(t, client, "acquire_focus", map[string]interface{}{"x": 0.25, "y": 0.75})
	if resp.Status != "success" {
		t.Fatalf("status = %s (%s), want success", resp.Status, resp.Error)
	}
	if gotX != 0.25 || gotY != 0.75 {
		t.Errorf("point = (%v, %v), want (0.25, 0.75)", gotX, gotY)
	}

	resp = send(t, client, "acquire_focus", map[string]interface{}{"x": "left"})
	if resp.Status != "error" {
		t.Fatalf("status = %s, want error for bad params", resp.Status)
	}
}

func TestUnknownCommand(t *testing.T) {
	client, _ := startHandler(t, Callbacks{})
	resp := send(t, client, "selfdestruct", nil)
	if resp.Status != "error" {
		t.Fatalf("status = %s, want error", resp.Status)
	}
}

func TestUnimplementedCommand(t *testing.T) {
	client, _ := startHandler(t, Callbacks{})
	resp := send(t, client, "stop_video", nil)
	if resp.Status != "error" {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if resp.Error != "stop_video not implemented" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestCallbackErrorPropagates(t *testing.T) {
	client, _ := startHandler(t, Callbacks{
		OnClose: func() error { return errTest },
	})
	resp := send(t, client, "close", nil)
	if resp.Status != "error" {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if resp.Error != errTest.Error() {
		t.Errorf("error = %q, want %q", resp.Error, errTest.Error())
	}
}

func TestMessageAfterStopIsDropped(t *testing.T) {
	// a message landing in the unsubscribe window is dropped, not a panic
	client, h := startHandler(t, Callbacks{
		OnClose: func() error { return nil },
	})
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	payload, err := json.Marshal(Command{Command: "close"})
	if err != nil {
		t.Fatal(err)
	}
	client.handler(client, &fakeMessage{payload: payload})

	select {
	case pub := <-client.published:
		t.Fatalf("unexpected response after stop: %s", pub.payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInvalidJSONGetsErrorResponse(t *testing.T) {
	client, _ := startHandler(t, Callbacks{})
	client.handler(client, &fakeMessage{payload: []byte("{not json")})

	select {
	case pub := <-client.published:
		var resp Response
		if err := json.Unmarshal(pub.payload, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "error" || resp.CommandAck != "unknown" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response published")
	}
}

var errTest = errors.New("camera unavailable")
