package camera

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/visiona/camcore/internal/hardware"
)

// Messenger delivers camera-initiated events to whoever is listening on
// the other side of the control plane.
type Messenger interface {
	// SendError reports an asynchronous camera fault.
	SendError(description string)
	// SendClosing announces that the device is shutting down.
	SendClosing()
}

// Options configures a Camera.
type Options struct {
	// Name identifies the physical camera at the provider.
	Name string
	// Preset selects the resolution tier to negotiate.
	Preset hardware.ResolutionPreset
	// Provider is the platform camera stack.
	Provider hardware.Provider
	// Recorder builds video encoder pipelines for StartVideoRecording.
	Recorder hardware.RecorderFactory
	// Render is the viewfinder target, attached to every session.
	Render hardware.Target
	// Messenger receives camera-initiated events.
	Messenger Messenger
}

// OpenResult reports the negotiated preview geometry after Open.
type OpenResult struct {
	PreviewWidth  int
	PreviewHeight int
}

// Status is a point-in-time snapshot of the camera.
type Status struct {
	Opened      bool      `json:"opened"`
	LockState   string    `json:"lock_state"`
	Recording   string    `json:"recording"`
	Streaming   bool      `json:"streaming"`
	Flash       FlashMode `json:"flash"`
	AutoFocus   bool      `json:"auto_focus"`
	Orientation int       `json:"orientation"`
}

// Camera orchestrates one physical camera. All fields below the queue
// are confined to the dispatch goroutine.
type Camera struct {
	name        string
	provider    hardware.Provider
	newRecorder hardware.RecorderFactory
	render      hardware.Target
	messenger   Messenger
	chars       hardware.Characteristics
	profile     hardware.Profile

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	wg      sync.WaitGroup

	generation    uint64
	device        hardware.Device
	session       hardware.Session
	pictureReader hardware.Reader
	streamReader  hardware.Reader
	repeating     *hardware.Request

	flash       FlashMode
	autoFocus   bool
	orientation int

	lockState LockState
	pending   *pendingCapture

	acquiringFocus bool
	focusTag       string
	focusDone      func(error)

	recState RecordingState
	recorder hardware.Recorder

	frameSink FrameSink
	frameSeq  uint64
}

// New creates a camera bound to one device and starts its dispatch
// goroutine. The device itself stays closed until Open.
func New(opts Options) (*Camera, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("camera: name is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("camera: provider is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("camera: recorder factory is required")
	}
	if opts.Render == nil {
		return nil, fmt.Errorf("camera: render target is required")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("camera: messenger is required")
	}
	chars, err := opts.Provider.Characteristics(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("camera: reading characteristics: %w", err)
	}
	profile, err := opts.Provider.Profile(opts.Name, opts.Preset)
	if err != nil {
		return nil, fmt.Errorf("camera: resolving preset %q: %w", opts.Preset, err)
	}

	c := &Camera{
		name:        opts.Name,
		provider:    opts.Provider,
		newRecorder: opts.Recorder,
		render:      opts.Render,
		messenger:   opts.Messenger,
		chars:       chars,
		profile:     profile,
		flash:       FlashModeOff,
		autoFocus:   true,
		orientation: OrientationUnknown,
	}
	c.cond = sync.NewCond(&c.mu)
	c.wg.Add(1)
	go c.loop()
	return c, nil
}

// post queues fn for the dispatch goroutine. It reports false once the
// camera is disposed.
func (c *Camera) post(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.queue = append(c.queue, fn)
	c.cond.Signal()
	return true
}

func (c *Camera) loop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		fn := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		// run with the queue lock released so callbacks fired
		// synchronously by a backend can post without deadlocking
		fn()
	}
}

// ensureDone normalizes a possibly nil completion callback.
func ensureDone(done func(error)) func(error) {
	if done == nil {
		return func(error) {}
	}
	return done
}

// Open acquires the device, allocates its frame readers and starts the
// preview session. done fires once preview frames are flowing, or with
// the error that prevented it.
func (c *Camera) Open(done func(OpenResult, error)) {
	if done == nil {
		done = func(OpenResult, error) {}
	}
	ok := c.post(func() { c.open(done) })
	if !ok {
		done(OpenResult{}, errDisposed())
	}
}

func (c *Camera) open(done func(OpenResult, error)) {
	if c.device != nil {
		done(OpenResult{}, newError(CodeCameraAccess, "the camera is already open"))
		return
	}
	var err error
	c.pictureReader, err = c.provider.NewReader(c.profile.CaptureWidth, c.profile.CaptureHeight, hardware.FormatJPEG, 2)
	if err != nil {
		done(OpenResult{}, fmt.Errorf("camera: creating picture reader: %w", err))
		return
	}
	c.streamReader, err = c.provider.NewReader(c.profile.PreviewWidth, c.profile.PreviewHeight, hardware.FormatYUV420, 2)
	if err != nil {
		c.pictureReader.Close()
		c.pictureReader = nil
		done(OpenResult{}, fmt.Errorf("camera: creating stream reader: %w", err))
		return
	}

	gen := c.generation
	cb := hardware.DeviceCallbacks{
		OnOpened: func(d hardware.Device) {
			c.post(func() { c.onDeviceOpened(gen, d, done) })
		},
		OnClosed: func() {
			c.post(func() { c.messenger.SendClosing() })
		},
		OnDisconnected: func() {
			c.post(func() { c.onDeviceLost("the camera was disconnected") })
		},
		OnError: func(code hardware.DeviceError) {
			c.post(func() { c.onDeviceLost(code.String()) })
		},
	}
	if err := c.provider.OpenDevice(c.name, cb); err != nil {
		c.closeNow()
		done(OpenResult{}, newError(CodeCameraAccess, "opening device %s: %v", c.name, err))
	}
}

// onDeviceOpened starts the preview once the device handle arrives. A
// close issued between OpenDevice and the opened callback supersedes the
// open: the fresh handle is released and the command fails.
func (c *Camera) onDeviceOpened(gen uint64, d hardware.Device, done func(OpenResult, error)) {
	if gen != c.generation || c.pictureReader == nil {
		d.Close()
		done(OpenResult{}, newError(CodeCameraAccess, "the camera was closed before the device opened"))
		return
	}
	c.device = d
	err := c.startPreview(
		func() {
			slog.Info("camera: preview started",
				"name", c.name,
				"width", c.profile.PreviewWidth,
				"height", c.profile.PreviewHeight)
			done(OpenResult{
				PreviewWidth:  c.profile.PreviewWidth,
				PreviewHeight: c.profile.PreviewHeight,
			}, nil)
		},
		func(err error) {
			c.closeNow()
			done(OpenResult{}, err)
		},
	)
	if err != nil {
		c.closeNow()
		done(OpenResult{}, err)
	}
}

// onDeviceLost handles the device being yanked away or faulting. The
// camera closes and the fault is reported as an event.
func (c *Camera) onDeviceLost(description string) {
	slog.Warn("camera: device lost", "name", c.name, "reason", description)
	c.closeNow()
	c.messenger.SendError(description)
}

// startPreview configures a preview session. The picture reader's target
// joins the session so still captures can run without reconfiguring.
func (c *Camera) startPreview(onReady func(), onFail func(error)) error {
	return c.createSession(hardware.TemplatePreview, onReady, onFail, c.pictureReader.Target())
}

// createSession replaces the current session with one configured for
// tmpl. extras join the session's target set; for non-preview templates
// they join the repeating request too. onReady fires once the repeating
// request is running; synchronous failures return an error instead.
func (c *Camera) createSession(tmpl hardware.Template, onReady func(), onFail func(error), extras ...hardware.Target) error {
	if c.device == nil {
		return errNotOpen()
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			slog.Warn("camera: closing previous session", "error", err)
		}
		c.session = nil
	}
	c.generation++
	gen := c.generation

	req := &hardware.Request{
		Template: tmpl,
		Targets:  []hardware.Target{c.render},
	}
	if tmpl != hardware.TemplatePreview {
		req.Targets = append(req.Targets, extras...)
	}
	c.repeating = req
	c.render.SetBufferSize(c.profile.PreviewWidth, c.profile.PreviewHeight)

	targets := append([]hardware.Target{c.render}, extras...)
	cb := hardware.SessionCallbacks{
		OnConfigured: func(s hardware.Session) {
			c.post(func() { c.onSessionConfigured(gen, s, onReady, onFail) })
		},
		OnConfigureFailed: func(err error) {
			c.post(func() {
				if gen != c.generation {
					return
				}
				onFail(newError(CodeCameraAccess, "configuring session: %v", err))
			})
		},
	}
	if err := c.device.CreateSession(targets, cb); err != nil {
		return newError(CodeCameraAccess, "creating session: %v", err)
	}
	return nil
}

func (c *Camera) onSessionConfigured(gen uint64, s hardware.Session, onReady func(), onFail func(error)) {
	if gen != c.generation {
		s.Close()
		return
	}
	if c.device == nil {
		s.Close()
		onFail(newError(CodeCameraAccess, "the camera was closed during configuration"))
		return
	}
	c.session = s
	c.repeating.ControlMode = hardware.ControlModeAuto
	c.applyAutoFocus()
	applyFlash(c.repeating, c.flash)
	if err := s.SetRepeating(c.repeating.Clone(), c.resultHandler(gen)); err != nil {
		onFail(newError(CodeCameraAccess, "starting repeating request: %v", err))
		return
	}
	onReady()
}

// resultHandler routes repeating-request results into the still-capture
// lock machine, tagged with the generation they were issued under.
func (c *Camera) resultHandler(gen uint64) hardware.ResultHandler {
	route := func(_ *hardware.Request, res hardware.Result) {
		c.post(func() { c.onResult(gen, res) })
	}
	return hardware.ResultHandler{
		OnProgress:  route,
		OnCompleted: route,
	}
}

// Close releases the device and all session resources. Closing a camera
// that never opened, or closing twice, succeeds.
func (c *Camera) Close(done func(error)) {
	done = ensureDone(done)
	ok := c.post(func() {
		c.closeNow()
		done(nil)
	})
	if !ok {
		done(nil)
	}
}

// closeNow tears everything down on the dispatch goroutine. Teardown
// order matches acquisition in reverse: session, device, readers,
// recorder.
func (c *Camera) closeNow() {
	c.generation++
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	if c.device != nil {
		c.device.Close()
		c.device = nil
	}
	if c.pictureReader != nil {
		c.pictureReader.Close()
		c.pictureReader = nil
	}
	if c.streamReader != nil {
		c.streamReader.Close()
		c.streamReader = nil
	}
	if c.recorder != nil {
		c.recorder.Release()
		c.recorder = nil
	}
	c.recState = RecordingIdle
	c.frameSink = nil
	c.lockState = StatePreview
	c.repeating = nil
	c.failPending(newError(CodeCaptureFailure, "the camera was closed"))
	if c.acquiringFocus {
		c.acquiringFocus = false
		c.focusTag = ""
		if done := c.focusDone; done != nil {
			c.focusDone = nil
			done(newError(CodeFocusFailed, "the camera was closed"))
		}
	}
}

// Dispose closes the camera and stops the dispatch goroutine. It blocks
// until queued work has drained. Commands issued afterwards fail with a
// cameraAccess error.
func (c *Camera) Dispose() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.queue = append(c.queue, c.closeNow)
	c.stopped = true
	c.cond.Signal()
	c.mu.Unlock()
	c.wg.Wait()
}

// Status returns a snapshot taken on the dispatch goroutine. A disposed
// camera reports the zero status.
func (c *Camera) Status() Status {
	ch := make(chan Status, 1)
	ok := c.post(func() {
		ch <- Status{
			Opened:      c.device != nil,
			LockState:   c.lockState.String(),
			Recording:   c.recState.String(),
			Streaming:   c.frameSink != nil,
			Flash:       c.flash,
			AutoFocus:   c.autoFocus,
			Orientation: c.orientation,
		}
	})
	if !ok {
		return Status{}
	}
	return <-ch
}
