package hardware

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SimConfig configures the simulated camera backend.
type SimConfig struct {
	Characteristics Characteristics
	Profiles        map[ResolutionPreset]Profile

	// Auto makes the backend self-driving: every one-shot capture
	// completes immediately with a converged result, and readers generate
	// synthetic frames at the profile frame rate once a frame callback is
	// installed. With Auto false the backend is inert and the test (or
	// operator tooling) delivers results and frames explicitly.
	Auto bool
}

// DefaultSimConfig returns a backend description for a plausible back
// camera with continuous autofocus and region metering.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Characteristics: Characteristics{
			SensorOrientation: 90,
			Facing:            FacingBack,
			ActiveArray:       Rect{Width: 4032, Height: 3024},
			MaxAFRegions:      1,
			AFModes:           []AFMode{AFModeOff, AFModeAuto, AFModeContinuousPicture},
		},
		Profiles: map[ResolutionPreset]Profile{
			PresetLow:      {PreviewWidth: 320, PreviewHeight: 240, CaptureWidth: 320, CaptureHeight: 240, FrameRate: 24, BitRate: 1_000_000},
			PresetMedium:   {PreviewWidth: 640, PreviewHeight: 480, CaptureWidth: 640, CaptureHeight: 480, FrameRate: 30, BitRate: 2_500_000},
			PresetHigh:     {PreviewWidth: 1280, PreviewHeight: 720, CaptureWidth: 1280, CaptureHeight: 720, FrameRate: 30, BitRate: 5_000_000},
			PresetVeryHigh: {PreviewWidth: 1280, PreviewHeight: 720, CaptureWidth: 1920, CaptureHeight: 1080, FrameRate: 30, BitRate: 10_000_000},
			PresetUltra:    {PreviewWidth: 1280, PreviewHeight: 720, CaptureWidth: 3840, CaptureHeight: 2160, FrameRate: 30, BitRate: 20_000_000},
			PresetMax:      {PreviewWidth: 1280, PreviewHeight: 720, CaptureWidth: 3840, CaptureHeight: 2160, FrameRate: 30, BitRate: 20_000_000},
		},
		Auto: true,
	}
}

// SimProvider is an in-process stand-in for a platform camera stack. It
// exists for two reasons: deterministic orchestration tests (manual mode)
// and running the daemon on machines without camera hardware (auto mode).
type SimProvider struct {
	cfg SimConfig

	mu      sync.Mutex
	device  *SimDevice
	readers []*SimReader
	journal []string
	// FailRecorderStart makes the next recorder built by NewRecorder
	// fail its Start call with this error.
	FailRecorderStart error
}

// NewSimProvider creates a simulated provider.
func NewSimProvider(cfg SimConfig) *SimProvider {
	return &SimProvider{cfg: cfg}
}

// Characteristics implements Provider.
func (p *SimProvider) Characteristics(name string) (Characteristics, error) {
	return p.cfg.Characteristics, nil
}

// Profile implements Provider.
func (p *SimProvider) Profile(name string, preset ResolutionPreset) (Profile, error) {
	prof, ok := p.cfg.Profiles[preset]
	if !ok {
		return Profile{}, fmt.Errorf("hardware: no profile for preset %q", preset)
	}
	return prof, nil
}

// OpenDevice implements Provider. The device opens synchronously; OnOpened
// is invoked before OpenDevice returns.
func (p *SimProvider) OpenDevice(name string, cb DeviceCallbacks) error {
	p.mu.Lock()
	if p.device != nil && !p.device.closed {
		p.mu.Unlock()
		return fmt.Errorf("hardware: device %q already open", name)
	}
	d := &SimDevice{provider: p, cb: cb}
	p.device = d
	p.mu.Unlock()

	p.record("open_device")
	slog.Debug("sim: device opened", "name", name)
	if cb.OnOpened != nil {
		cb.OnOpened(d)
	}
	return nil
}

// NewReader implements Provider.
func (p *SimProvider) NewReader(width, height int, format PixelFormat, maxFrames int) (Reader, error) {
	if maxFrames < 1 {
		return nil, fmt.Errorf("hardware: reader depth must be >= 1, got %d", maxFrames)
	}
	r := &SimReader{
		provider: p,
		width:    width,
		height:   height,
		format:   format,
		depth:    maxFrames,
		fps:      p.frameRateFor(width, height),
		target:   &SimTarget{},
	}
	p.mu.Lock()
	p.readers = append(p.readers, r)
	p.mu.Unlock()
	return r, nil
}

// Device returns the most recently opened device, for tests and tooling.
func (p *SimProvider) Device() *SimDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// Readers returns all readers in creation order.
func (p *SimProvider) Readers() []*SimReader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*SimReader(nil), p.readers...)
}

// Journal returns the ordered log of backend operations observed so far.
func (p *SimProvider) Journal() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.journal...)
}

func (p *SimProvider) record(event string) {
	p.mu.Lock()
	p.journal = append(p.journal, event)
	p.mu.Unlock()
}

// frameRateFor resolves the frame rate of the profile matching the
// reader geometry. Readers are created at either the preview or the
// capture size of a negotiated profile.
func (p *SimProvider) frameRateFor(width, height int) int {
	for _, prof := range p.cfg.Profiles {
		if prof.FrameRate <= 0 {
			continue
		}
		if (prof.PreviewWidth == width && prof.PreviewHeight == height) ||
			(prof.CaptureWidth == width && prof.CaptureHeight == height) {
			return prof.FrameRate
		}
	}
	return 30
}

// deliverTo pushes a synthetic frame to every reader bound to one of the
// request targets. Auto mode calls this before completing a capture so
// the image reaches the reader ahead of the completion callback, as the
// Session contract requires.
func (p *SimProvider) deliverTo(targets []Target) {
	p.mu.Lock()
	readers := append([]*SimReader(nil), p.readers...)
	p.mu.Unlock()
	for _, tgt := range targets {
		for _, r := range readers {
			if Target(r.target) == tgt {
				r.Push(r.syntheticFrame())
			}
		}
	}
}

// SimDevice is the simulated open camera.
type SimDevice struct {
	provider *SimProvider
	cb       DeviceCallbacks

	mu sync.Mutex
	// FailConfigure makes the next CreateSession report a configuration
	// failure instead of a session.
	FailConfigure bool
	session       *SimSession
	closed        bool
}

// CreateSession implements Device. Configuration resolves synchronously.
func (d *SimDevice) CreateSession(targets []Target, cb SessionCallbacks) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("hardware: device is closed")
	}
	if d.FailConfigure {
		d.FailConfigure = false
		d.mu.Unlock()
		d.provider.record("configure_failed")
		if cb.OnConfigureFailed != nil {
			cb.OnConfigureFailed(fmt.Errorf("hardware: session configuration rejected"))
		}
		return nil
	}
	s := &SimSession{device: d, targets: append([]Target(nil), targets...)}
	d.session = s
	d.mu.Unlock()

	d.provider.record("configure_session")
	if cb.OnConfigured != nil {
		cb.OnConfigured(s)
	}
	return nil
}

// Close implements Device.
func (d *SimDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.provider.record("close_device")
	if d.cb.OnClosed != nil {
		d.cb.OnClosed()
	}
	return nil
}

// Disconnect simulates the platform yanking the device away.
func (d *SimDevice) Disconnect() {
	d.provider.record("disconnect")
	if d.cb.OnDisconnected != nil {
		d.cb.OnDisconnected()
	}
}

// ReportError simulates a fatal device-level error callback.
func (d *SimDevice) ReportError(code DeviceError) {
	d.provider.record("device_error")
	if d.cb.OnError != nil {
		d.cb.OnError(code)
	}
}

// Session returns the current session, for tests and tooling.
func (d *SimDevice) Session() *SimSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// SubmittedRequest is one request handed to a SimSession, retained with its
// handler so tests can deliver results against it.
type SubmittedRequest struct {
	Request *Request
	Handler ResultHandler
}

// Progress delivers an in-flight result for this request. The request's
// correlation tag is copied onto the result.
func (r *SubmittedRequest) Progress(res Result) {
	res.Tag = r.Request.Tag
	if r.Handler.OnProgress != nil {
		r.Handler.OnProgress(r.Request, res)
	}
}

// Complete delivers the final result for this request.
func (r *SubmittedRequest) Complete(res Result) {
	res.Tag = r.Request.Tag
	if r.Handler.OnCompleted != nil {
		r.Handler.OnCompleted(r.Request, res)
	}
}

// Fail delivers a capture failure for this request.
func (r *SubmittedRequest) Fail(reason FailureReason) {
	if r.Handler.OnFailed != nil {
		r.Handler.OnFailed(r.Request, Failure{Tag: r.Request.Tag, Reason: reason})
	}
}

// SimSession records submitted requests and, in auto mode, completes
// one-shot captures immediately with a converged result.
type SimSession struct {
	device  *SimDevice
	targets []Target

	mu        sync.Mutex
	repeating *SubmittedRequest
	captures  []*SubmittedRequest
	// FailRepeating makes the next SetRepeating call return this error.
	FailRepeating error
	closed        bool
}

// SetRepeating implements Session.
func (s *SimSession) SetRepeating(req *Request, h ResultHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("hardware: session is closed")
	}
	if err := s.FailRepeating; err != nil {
		s.FailRepeating = nil
		s.mu.Unlock()
		return err
	}
	s.repeating = &SubmittedRequest{Request: req, Handler: h}
	s.mu.Unlock()
	s.device.provider.record("set_repeating")
	return nil
}

// Capture implements Session.
func (s *SimSession) Capture(req *Request, h ResultHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("hardware: session is closed")
	}
	sub := &SubmittedRequest{Request: req, Handler: h}
	s.captures = append(s.captures, sub)
	auto := s.device.provider.cfg.Auto
	s.mu.Unlock()

	s.device.provider.record("capture:" + req.Template.String())
	if auto {
		s.device.provider.deliverTo(req.Targets)
		sub.Complete(Result{AFState: AFStateFocusedLocked, AEState: AEStateConverged})
	}
	return nil
}

// StopRepeating implements Session.
func (s *SimSession) StopRepeating() error {
	s.mu.Lock()
	s.repeating = nil
	s.mu.Unlock()
	s.device.provider.record("stop_repeating")
	return nil
}

// Close implements Session.
func (s *SimSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.device.provider.record("close_session")
	return nil
}

// Repeating returns the current repeating submission, or nil.
func (s *SimSession) Repeating() *SubmittedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeating
}

// Captures returns all one-shot submissions in order.
func (s *SimSession) Captures() []*SubmittedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SubmittedRequest(nil), s.captures...)
}

// LastCapture returns the most recent one-shot submission, or nil.
func (s *SimSession) LastCapture() *SubmittedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.captures) == 0 {
		return nil
	}
	return s.captures[len(s.captures)-1]
}

// SimTarget is an opaque render target that records the buffer size hints
// it receives.
type SimTarget struct {
	mu     sync.Mutex
	width  int
	height int
}

// SetBufferSize implements Target.
func (t *SimTarget) SetBufferSize(width, height int) {
	t.mu.Lock()
	t.width, t.height = width, height
	t.mu.Unlock()
}

// BufferSize returns the last hinted dimensions.
func (t *SimTarget) BufferSize() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// SimFrame is a concrete RawFrame backed by in-process memory.
type SimFrame struct {
	W, H   int
	Fmt    PixelFormat
	Data   []Plane
	mu     sync.Mutex
	closed bool
}

// NewSimFrame builds a frame from explicit planes.
func NewSimFrame(width, height int, format PixelFormat, planes ...Plane) *SimFrame {
	return &SimFrame{W: width, H: height, Fmt: format, Data: planes}
}

func (f *SimFrame) Width() int          { return f.W }
func (f *SimFrame) Height() int         { return f.H }
func (f *SimFrame) Format() PixelFormat { return f.Fmt }
func (f *SimFrame) Planes() []Plane     { return f.Data }

// Release implements RawFrame.
func (f *SimFrame) Release() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Released reports whether Release has been called.
func (f *SimFrame) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SimReader is a bounded frame queue with latest-wins overflow. In auto
// mode it generates synthetic black frames at the profile frame rate while
// a frame callback is installed.
type SimReader struct {
	provider *SimProvider
	width    int
	height   int
	format   PixelFormat
	depth    int
	fps      int
	target   *SimTarget

	mu      sync.Mutex
	queue   []RawFrame
	onFrame func()
	dropped uint64
	stopGen chan struct{}
	closed  bool
}

// Target implements Reader.
func (r *SimReader) Target() Target { return r.target }

// OnFrameAvailable implements Reader.
func (r *SimReader) OnFrameAvailable(fn func()) {
	r.mu.Lock()
	r.onFrame = fn
	auto := r.provider.cfg.Auto
	if r.stopGen != nil {
		close(r.stopGen)
		r.stopGen = nil
	}
	var stop chan struct{}
	if auto && fn != nil && !r.closed {
		stop = make(chan struct{})
		r.stopGen = stop
	}
	r.mu.Unlock()

	if stop != nil {
		go r.generate(stop)
	}
}

// Push enqueues a frame, dropping the oldest one past the queue depth, and
// fires the frame callback.
func (r *SimReader) Push(f RawFrame) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		f.Release()
		return
	}
	r.queue = append(r.queue, f)
	if len(r.queue) > r.depth {
		old := r.queue[0]
		r.queue = r.queue[1:]
		r.dropped++
		old.Release()
	}
	fn := r.onFrame
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// AcquireLatest implements Reader: newest frame wins, older undelivered
// frames are released.
func (r *SimReader) AcquireLatest() RawFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	latest := r.queue[len(r.queue)-1]
	for _, old := range r.queue[:len(r.queue)-1] {
		r.dropped++
		old.Release()
	}
	r.queue = nil
	return latest
}

// Dropped returns the number of frames discarded without delivery.
func (r *SimReader) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close implements Reader.
func (r *SimReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.onFrame = nil
	if r.stopGen != nil {
		close(r.stopGen)
		r.stopGen = nil
	}
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, f := range queue {
		f.Release()
	}
	return nil
}

func (r *SimReader) generate(stop chan struct{}) {
	fps := r.fps
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Push(r.syntheticFrame())
		}
	}
}

// syntheticFrame builds a black frame in the reader's format.
func (r *SimReader) syntheticFrame() RawFrame {
	switch r.format {
	case FormatYUV420:
		y := Plane{RowStride: r.width, PixelStride: 1, Bytes: make([]byte, r.width*r.height)}
		u := Plane{RowStride: r.width / 2, PixelStride: 1, Bytes: make([]byte, r.width*r.height/4)}
		v := Plane{RowStride: r.width / 2, PixelStride: 1, Bytes: make([]byte, r.width*r.height/4)}
		return NewSimFrame(r.width, r.height, r.format, y, u, v)
	default:
		return NewSimFrame(r.width, r.height, r.format,
			Plane{RowStride: r.width, PixelStride: 1, Bytes: make([]byte, r.width*r.height)})
	}
}

// SimRecorder is a no-op encoder used by tests and by the daemon when a
// GStreamer pipeline is unavailable.
type SimRecorder struct {
	provider *SimProvider
	path     string
	target   *SimTarget

	mu sync.Mutex
	// FailStart/FailStop inject errors into the next Start/Stop call.
	FailStart error
	FailStop  error
	started   bool
	paused    bool
}

// NewRecorder builds a SimRecorder bound to this provider's journal. It
// satisfies RecorderFactory.
func (p *SimProvider) NewRecorder(profile Profile, path string, orientation int) (Recorder, error) {
	p.record("prepare_recorder")
	p.mu.Lock()
	failStart := p.FailRecorderStart
	p.FailRecorderStart = nil
	p.mu.Unlock()
	return &SimRecorder{provider: p, path: path, target: &SimTarget{}, FailStart: failStart}, nil
}

// Target implements Recorder.
func (r *SimRecorder) Target() Target { return r.target }

// Start implements Recorder.
func (r *SimRecorder) Start() error {
	r.mu.Lock()
	if err := r.FailStart; err != nil {
		r.FailStart = nil
		r.mu.Unlock()
		return err
	}
	r.started = true
	r.paused = false
	r.mu.Unlock()
	r.provider.record("recorder_start")
	return nil
}

// Pause implements Recorder.
func (r *SimRecorder) Pause() error {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	r.provider.record("recorder_pause")
	return nil
}

// Resume implements Recorder.
func (r *SimRecorder) Resume() error {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.provider.record("recorder_resume")
	return nil
}

// Stop implements Recorder.
func (r *SimRecorder) Stop() error {
	r.mu.Lock()
	if err := r.FailStop; err != nil {
		r.FailStop = nil
		r.mu.Unlock()
		return err
	}
	r.started = false
	r.mu.Unlock()
	r.provider.record("recorder_stop")
	return nil
}

// Reset implements Recorder.
func (r *SimRecorder) Reset() error {
	r.provider.record("recorder_reset")
	return nil
}

// Release implements Recorder.
func (r *SimRecorder) Release() {
	r.provider.record("recorder_release")
}

// SupportsPause implements Recorder.
func (r *SimRecorder) SupportsPause() bool { return true }
