package camera

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/visiona/camcore/internal/hardware"
)

const testTimeout = 2 * time.Second

type stubMessenger struct {
	mu      sync.Mutex
	errors  []string
	closing int
}

func (m *stubMessenger) SendError(description string) {
	m.mu.Lock()
	m.errors = append(m.errors, description)
	m.mu.Unlock()
}

func (m *stubMessenger) SendClosing() {
	m.mu.Lock()
	m.closing++
	m.mu.Unlock()
}

func (m *stubMessenger) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

// newTestCamera builds a camera against a manual-mode sim provider and
// opens it. Manual mode delivers no results on its own, so each test
// drives convergence explicitly.
func newTestCamera(t *testing.T) (*Camera, *hardware.SimProvider, *stubMessenger) {
	t.Helper()
	cfg := hardware.DefaultSimConfig()
	cfg.Auto = false
	p := hardware.NewSimProvider(cfg)
	msg := &stubMessenger{}
	cam, err := New(Options{
		Name:      "cam0",
		Preset:    hardware.PresetMedium,
		Provider:  p,
		Recorder:  p.NewRecorder,
		Render:    &hardware.SimTarget{},
		Messenger: msg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(cam.Dispose)

	ch := make(chan error, 1)
	cam.Open(func(_ OpenResult, err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return cam, p, msg
}

// flush waits for the dispatch queue to drain past a marker.
func flush(t *testing.T, c *Camera) {
	t.Helper()
	ch := make(chan struct{})
	if !c.post(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("dispatch queue stalled")
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

// session returns the live sim session.
func session(t *testing.T, p *hardware.SimProvider) *hardware.SimSession {
	t.Helper()
	d := p.Device()
	if d == nil {
		t.Fatal("no device open")
	}
	s := d.Session()
	if s == nil {
		t.Fatal("no session configured")
	}
	return s
}

func countJournal(p *hardware.SimProvider, event string) int {
	n := 0
	for _, e := range p.Journal() {
		if e == event {
			n++
		}
	}
	return n
}

func TestOpenReportsPreviewGeometry(t *testing.T) {
	cfg := hardware.DefaultSimConfig()
	cfg.Auto = false
	p := hardware.NewSimProvider(cfg)
	cam, err := New(Options{
		Name:      "cam0",
		Preset:    hardware.PresetHigh,
		Provider:  p,
		Recorder:  p.NewRecorder,
		Render:    &hardware.SimTarget{},
		Messenger: &stubMessenger{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cam.Dispose()

	ch := make(chan OpenResult, 1)
	errCh := make(chan error, 1)
	cam.Open(func(res OpenResult, err error) {
		ch <- res
		errCh <- err
	})
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Open: %v", err)
	}
	res := <-ch
	if res.PreviewWidth != 1280 || res.PreviewHeight != 720 {
		t.Errorf("preview geometry = %dx%d, want 1280x720", res.PreviewWidth, res.PreviewHeight)
	}
	if got := countJournal(p, "set_repeating"); got != 1 {
		t.Errorf("set_repeating count = %d, want 1", got)
	}
}

func TestOpenTwiceRejected(t *testing.T) {
	cam, _, _ := newTestCamera(t)

	ch := make(chan error, 1)
	cam.Open(func(_ OpenResult, err error) { ch <- err })
	err := waitErr(t, ch)
	if !IsCode(err, CodeCameraAccess) {
		t.Fatalf("second open error = %v, want %s", err, CodeCameraAccess)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cam, p, _ := newTestCamera(t)

	for i := 0; i < 2; i++ {
		ch := make(chan error, 1)
		cam.Close(func(err error) { ch <- err })
		if err := waitErr(t, ch); err != nil {
			t.Fatalf("close #%d: %v", i+1, err)
		}
	}
	if got := countJournal(p, "close_device"); got != 1 {
		t.Errorf("close_device count = %d, want 1", got)
	}
	if st := cam.Status(); st.Opened {
		t.Error("camera still reports opened after close")
	}
}

func TestCloseNeverOpened(t *testing.T) {
	cfg := hardware.DefaultSimConfig()
	cfg.Auto = false
	p := hardware.NewSimProvider(cfg)
	cam, err := New(Options{
		Name:      "cam0",
		Preset:    hardware.PresetMedium,
		Provider:  p,
		Recorder:  p.NewRecorder,
		Render:    &hardware.SimTarget{},
		Messenger: &stubMessenger{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cam.Dispose()

	ch := make(chan error, 1)
	cam.Close(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("close of never-opened camera: %v", err)
	}
}

func TestDisconnectClosesAndReports(t *testing.T) {
	cam, p, msg := newTestCamera(t)

	p.Device().Disconnect()
	flush(t, cam)

	if st := cam.Status(); st.Opened {
		t.Error("camera still reports opened after disconnect")
	}
	if msg.errorCount() == 0 {
		t.Error("no error event emitted for disconnect")
	}
}

// deferredOpenProvider withholds the opened callback until the test
// releases it, exposing the window between OpenDevice and OnOpened.
type deferredOpenProvider struct {
	*hardware.SimProvider

	mu      sync.Mutex
	pending func()
}

func (p *deferredOpenProvider) OpenDevice(name string, cb hardware.DeviceCallbacks) error {
	wrapped := cb
	wrapped.OnOpened = func(d hardware.Device) {
		p.mu.Lock()
		p.pending = func() { cb.OnOpened(d) }
		p.mu.Unlock()
	}
	return p.SimProvider.OpenDevice(name, wrapped)
}

func (p *deferredOpenProvider) release() {
	p.mu.Lock()
	fn := p.pending
	p.pending = nil
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestCloseBeforeDeviceOpenedDiscardsCallback(t *testing.T) {
	cfg := hardware.DefaultSimConfig()
	cfg.Auto = false
	p := &deferredOpenProvider{SimProvider: hardware.NewSimProvider(cfg)}
	cam, err := New(Options{
		Name:      "cam0",
		Preset:    hardware.PresetMedium,
		Provider:  p,
		Recorder:  p.NewRecorder,
		Render:    &hardware.SimTarget{},
		Messenger: &stubMessenger{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cam.Dispose()

	opened := make(chan error, 1)
	cam.Open(func(_ OpenResult, e error) { opened <- e })
	flush(t, cam)

	closed := make(chan error, 1)
	cam.Close(func(e error) { closed <- e })
	waitErr(t, closed)

	// the device handle arrives after the close and must be discarded
	p.release()
	flush(t, cam)

	err = waitErr(t, opened)
	if !IsCode(err, CodeCameraAccess) {
		t.Fatalf("superseded open error = %v, want %s", err, CodeCameraAccess)
	}
	if st := cam.Status(); st.Opened {
		t.Error("camera reports opened after superseded open")
	}
	if got := countJournal(p.SimProvider, "close_device"); got != 1 {
		t.Errorf("close_device count = %d, want 1 (stale handle released)", got)
	}
}

func TestCommandsAfterDisposeFail(t *testing.T) {
	cam, _, _ := newTestCamera(t)
	cam.Dispose()

	ch := make(chan error, 1)
	cam.TakePicture("/tmp/never.jpg", func(err error) { ch <- err })
	err := waitErr(t, ch)
	if !IsCode(err, CodeCameraAccess) {
		t.Fatalf("post-dispose error = %v, want %s", err, CodeCameraAccess)
	}
}

func TestStaleGenerationResultsDiscarded(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	rep := session(t, p).Repeating()

	ch := make(chan error, 1)
	cam.Close(func(err error) { ch <- err })
	waitErr(t, ch)

	// a result from the torn-down session must not advance anything
	rep.Complete(hardware.Result{AFState: hardware.AFStateFocusedLocked})
	flush(t, cam)

	if st := cam.Status(); st.LockState != StatePreview.String() {
		t.Errorf("lock state = %s, want preview", st.LockState)
	}
}

func TestSetFlashModeRollsBackOnFailure(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	sess := session(t, p)
	sess.FailRepeating = errors.New("device rejected template")

	ch := make(chan error, 1)
	cam.SetFlashMode(FlashModeTorch, func(err error) { ch <- err })
	if err := waitErr(t, ch); err == nil {
		t.Fatal("expected flash mode change to fail")
	}
	if st := cam.Status(); st.Flash != FlashModeOff {
		t.Errorf("flash = %s after failed change, want off", st.Flash)
	}

	// next attempt succeeds and sticks
	cam.SetFlashMode(FlashModeTorch, func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := cam.Status(); st.Flash != FlashModeTorch {
		t.Errorf("flash = %s, want torch", st.Flash)
	}
}

func TestSetAutoFocusRollsBackOnFailure(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	sess := session(t, p)
	sess.FailRepeating = errors.New("device rejected template")

	ch := make(chan error, 1)
	cam.SetAutoFocus(false, func(err error) { ch <- err })
	if err := waitErr(t, ch); err == nil {
		t.Fatal("expected autofocus change to fail")
	}
	if st := cam.Status(); !st.AutoFocus {
		t.Error("autofocus disabled despite rejected template")
	}
}

func TestSetFlashModeNoopWhenUnchanged(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	before := countJournal(p, "set_repeating")

	ch := make(chan error, 1)
	cam.SetFlashMode(FlashModeOff, func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("SetFlashMode: %v", err)
	}
	if got := countJournal(p, "set_repeating"); got != before {
		t.Errorf("set_repeating count = %d, want %d (no resubmission)", got, before)
	}
}

func TestStatusSnapshot(t *testing.T) {
	cam, _, _ := newTestCamera(t)

	st := cam.Status()
	if !st.Opened {
		t.Error("Opened = false, want true")
	}
	if st.LockState != "preview" {
		t.Errorf("LockState = %s, want preview", st.LockState)
	}
	if st.Recording != "idle" {
		t.Errorf("Recording = %s, want idle", st.Recording)
	}
	if st.Streaming {
		t.Error("Streaming = true, want false")
	}
	if !st.AutoFocus {
		t.Error("AutoFocus = false, want true")
	}
	if st.Orientation != OrientationUnknown {
		t.Errorf("Orientation = %d, want unknown", st.Orientation)
	}
}
