// Package hardware defines the interface boundary between the capture
// orchestration core and the platform camera stack.
//
// The core never talks to a device directly: it opens a Device through a
// Provider, binds it to render Targets inside a Session, and drives the
// session with Requests. Convergence of the autofocus and auto-exposure
// subsystems is reported back asynchronously through ResultHandler
// callbacks, one per submitted request (repeating or one-shot).
//
// All callbacks delivered by an implementation are serialized: a backend
// must never invoke two callbacks of the same camera concurrently. The
// orchestration core relies on this when it re-posts callbacks onto its
// session worker.
package hardware

import "fmt"

// Template is the named intent a capture session is configured for. It
// selects the parameter set and target wiring of the pipeline.
type Template int

const (
	// TemplatePreview drives the low-latency viewfinder pipeline.
	TemplatePreview Template = iota
	// TemplateStill drives a single high-resolution capture.
	TemplateStill
	// TemplateRecord drives the sustained-throughput pipeline used for
	// video encoding and raw frame streaming.
	TemplateRecord
)

// String returns a human-readable name for the template.
func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStill:
		return "still"
	case TemplateRecord:
		return "record"
	default:
		return "unknown"
	}
}

// ControlMode selects how much of the 3A pipeline the device runs.
type ControlMode int

const (
	ControlModeOff ControlMode = iota
	ControlModeAuto
)

// AFMode is the autofocus operating mode applied to a request.
type AFMode int

const (
	AFModeOff AFMode = iota
	AFModeAuto
	AFModeContinuousPicture
)

// AFTrigger is the one-shot autofocus trigger carried by a request.
type AFTrigger int

const (
	AFTriggerIdle AFTrigger = iota
	AFTriggerStart
	AFTriggerCancel
)

// AEMode is the auto-exposure operating mode applied to a request.
type AEMode int

const (
	AEModeOn AEMode = iota
	AEModeOnAlwaysFlash
	AEModeOnAutoFlash
)

// AETrigger is the one-shot precapture metering trigger.
type AETrigger int

const (
	AETriggerIdle AETrigger = iota
	AETriggerStart
)

// FlashMode is the physical flash unit state applied to a request.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashSingle
	FlashTorch
)

// AFState is the autofocus convergence state reported in a Result.
type AFState int

const (
	AFStateUnknown AFState = iota
	AFStateInactive
	AFStatePassiveScan
	AFStatePassiveFocused
	AFStateFocusedLocked
	AFStateNotFocusedLocked
)

// String returns a human-readable name for the AF state.
func (s AFState) String() string {
	switch s {
	case AFStateInactive:
		return "inactive"
	case AFStatePassiveScan:
		return "passive_scan"
	case AFStatePassiveFocused:
		return "passive_focused"
	case AFStateFocusedLocked:
		return "focused_locked"
	case AFStateNotFocusedLocked:
		return "not_focused_locked"
	default:
		return "unknown"
	}
}

// AEState is the auto-exposure convergence state reported in a Result.
type AEState int

const (
	AEStateUnknown AEState = iota
	AEStateInactive
	AEStateSearching
	AEStateConverged
	AEStateLocked
	AEStateFlashRequired
	AEStatePrecapture
)

// String returns a human-readable name for the AE state.
func (s AEState) String() string {
	switch s {
	case AEStateInactive:
		return "inactive"
	case AEStateSearching:
		return "searching"
	case AEStateConverged:
		return "converged"
	case AEStateLocked:
		return "locked"
	case AEStateFlashRequired:
		return "flash_required"
	case AEStatePrecapture:
		return "precapture"
	default:
		return "unknown"
	}
}

// PixelFormat identifies the buffer layout of frames produced by a Reader.
type PixelFormat int

const (
	FormatJPEG PixelFormat = iota
	FormatYUV420
)

// String returns a human-readable name for the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatYUV420:
		return "yuv420"
	default:
		return "unknown"
	}
}

// Facing reports which way the lens points.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

// Rect is a rectangle in sensor pixel coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Characteristics is the read-only capability sheet of one physical camera,
// consumed at session construction and by the focus/policy logic.
type Characteristics struct {
	// SensorOrientation is the clockwise rotation (degrees) between the
	// sensor scanout and the device's natural orientation.
	SensorOrientation int
	// Facing reports front/back lens placement.
	Facing Facing
	// ActiveArray is the sensor's active pixel bounds; metering regions
	// must be clamped into it.
	ActiveArray Rect
	// MaxAFRegions is the number of autofocus metering regions the device
	// accepts (0 means region-based AF metering is unsupported).
	MaxAFRegions int
	// AFModes lists the autofocus modes the device reports.
	AFModes []AFMode
}

// HasAutoFocus reports whether the device offers any real autofocus mode.
// A device whose only reported mode is AFModeOff cannot focus.
func (c Characteristics) HasAutoFocus() bool {
	for _, m := range c.AFModes {
		if m != AFModeOff {
			return true
		}
	}
	return false
}

// ResolutionPreset names a quality tier resolved by the Provider into a
// concrete Profile.
type ResolutionPreset string

const (
	PresetLow      ResolutionPreset = "low"
	PresetMedium   ResolutionPreset = "medium"
	PresetHigh     ResolutionPreset = "high"
	PresetVeryHigh ResolutionPreset = "veryHigh"
	PresetUltra    ResolutionPreset = "ultraHigh"
	PresetMax      ResolutionPreset = "max"
)

// ParsePreset validates a preset name from configuration.
func ParsePreset(s string) (ResolutionPreset, error) {
	switch p := ResolutionPreset(s); p {
	case PresetLow, PresetMedium, PresetHigh, PresetVeryHigh, PresetUltra, PresetMax:
		return p, nil
	default:
		return "", fmt.Errorf("hardware: unknown resolution preset %q", s)
	}
}

// Profile is the negotiated size and encoding profile for a preset.
type Profile struct {
	PreviewWidth  int
	PreviewHeight int
	CaptureWidth  int
	CaptureHeight int
	FrameRate     int
	// BitRate is the video encoding bit rate in bits per second.
	BitRate int
}

// DeviceError categorizes fatal device-level failures reported through
// DeviceCallbacks.OnError.
type DeviceError int

const (
	DeviceErrorInUse DeviceError = iota
	DeviceErrorMaxInUse
	DeviceErrorDisabled
	DeviceErrorFatalDevice
	DeviceErrorFatalService
)

// String returns the operator-facing description of the error.
func (e DeviceError) String() string {
	switch e {
	case DeviceErrorInUse:
		return "the camera device is in use already"
	case DeviceErrorMaxInUse:
		return "max cameras in use"
	case DeviceErrorDisabled:
		return "the camera device could not be opened due to a device policy"
	case DeviceErrorFatalDevice:
		return "the camera device has encountered a fatal error"
	case DeviceErrorFatalService:
		return "the camera service has encountered a fatal error"
	default:
		return "unknown camera error"
	}
}

// FailureReason categorizes a per-capture failure.
type FailureReason int

const (
	// FailureError indicates a fault inside the capture framework.
	FailureError FailureReason = iota
	// FailureAborted indicates the capture was flushed by an abort.
	FailureAborted
)

// String returns the operator-facing description of the reason.
func (r FailureReason) String() string {
	switch r {
	case FailureError:
		return "an error happened in the framework"
	case FailureAborted:
		return "the capture was aborted"
	default:
		return "unknown reason"
	}
}

// Request is the mutable parameter template submitted to a Session, either
// continuously (SetRepeating) or once (Capture). The orchestration core
// owns exactly one repeating template and clones it per submission.
type Request struct {
	Template    Template
	Targets     []Target
	ControlMode ControlMode
	AFMode      AFMode
	AFTrigger   AFTrigger
	AEMode      AEMode
	AETrigger   AETrigger
	FlashMode   FlashMode
	// AFRegions are metering rectangles in sensor coordinates; only
	// meaningful when the device reports MaxAFRegions >= 1.
	AFRegions []Rect
	// Orientation is the clockwise rotation to record into produced media.
	Orientation int
	// Tag correlates results of this request with the operation that
	// issued it; empty for untagged requests.
	Tag string
}

// Clone returns a deep copy of the request, safe to hand to a backend
// while the core keeps mutating the template.
func (r *Request) Clone() *Request {
	dup := *r
	dup.Targets = append([]Target(nil), r.Targets...)
	dup.AFRegions = append([]Rect(nil), r.AFRegions...)
	return &dup
}

// Result carries the convergence state observed for one submitted request.
type Result struct {
	Tag     string
	AFState AFState
	AEState AEState
}

// Failure describes a per-capture failure.
type Failure struct {
	Tag    string
	Reason FailureReason
}

// ResultHandler receives the asynchronous outcome stream of a submitted
// request. For a repeating request OnProgress/OnCompleted fire once per
// produced frame; for a one-shot capture they fire once. Any field may be
// nil.
type ResultHandler struct {
	OnProgress  func(req *Request, res Result)
	OnCompleted func(req *Request, res Result)
	OnFailed    func(req *Request, f Failure)
}

// Target is an opaque drawable destination owned by the platform. The core
// only hints its buffer dimensions and attaches it to sessions.
type Target interface {
	SetBufferSize(width, height int)
}

// Plane is one plane of a raw hardware frame.
type Plane struct {
	RowStride   int
	PixelStride int
	Bytes       []byte
}

// RawFrame is a hardware-owned frame buffer. Release must be called exactly
// once; the planes must not be touched afterwards.
type RawFrame interface {
	Width() int
	Height() int
	Format() PixelFormat
	Planes() []Plane
	Release()
}

// Reader hands out frames produced against its Target. Implementations keep
// a bounded buffer (depth two) and drop the oldest undelivered frame on
// overflow.
type Reader interface {
	// Target returns the capture target frames are produced against.
	Target() Target
	// OnFrameAvailable installs the frame notification callback; nil
	// clears it and stops notifications.
	OnFrameAvailable(fn func())
	// AcquireLatest returns the newest available frame, discarding any
	// older undelivered ones, or nil when none is pending.
	AcquireLatest() RawFrame
	Close() error
}

// Session is the live pipeline binding a device to a fixed target set. The
// target set is immutable once configured; changing it requires closing the
// session and creating a new one.
type Session interface {
	// SetRepeating installs req as the continuously resubmitted template.
	SetRepeating(req *Request, h ResultHandler) error
	// Capture submits a one-shot request alongside the repeating one. For
	// TemplateStill requests the backend delivers the image to the bound
	// reader before invoking OnCompleted.
	Capture(req *Request, h ResultHandler) error
	// StopRepeating halts the repeating request without closing the
	// session.
	StopRepeating() error
	Close() error
}

// SessionCallbacks reports the asynchronous outcome of session creation.
type SessionCallbacks struct {
	OnConfigured      func(s Session)
	OnConfigureFailed func(err error)
}

// Device is an exclusively owned open camera.
type Device interface {
	// CreateSession configures a capture session against the given
	// targets. The outcome arrives through cb.
	CreateSession(targets []Target, cb SessionCallbacks) error
	Close() error
}

// DeviceCallbacks reports device lifecycle transitions. OnOpened fires once
// on success; OnDisconnected and OnError may fire at any point afterwards
// and race with caller-issued commands.
type DeviceCallbacks struct {
	OnOpened       func(d Device)
	OnClosed       func()
	OnDisconnected func()
	OnError        func(code DeviceError)
}

// Recorder is a video encoding pipeline sharing the capture session with
// the preview target.
type Recorder interface {
	// Target returns the encoder's input surface.
	Target() Target
	Start() error
	Pause() error
	Resume() error
	// Stop finalizes the output file.
	Stop() error
	// Reset returns the encoder to its unprepared state.
	Reset() error
	// Release frees the pipeline; the recorder is unusable afterwards.
	Release()
	// SupportsPause reports whether Pause/Resume are available.
	SupportsPause() bool
}

// RecorderFactory builds a Recorder prepared against a negotiated profile
// and destination path. Orientation is the media orientation hint.
type RecorderFactory func(profile Profile, path string, orientation int) (Recorder, error)

// Provider is the platform camera stack: capability lookup, device access
// and frame reader allocation.
type Provider interface {
	Characteristics(name string) (Characteristics, error)
	Profile(name string, preset ResolutionPreset) (Profile, error)
	OpenDevice(name string, cb DeviceCallbacks) error
	NewReader(width, height int, format PixelFormat, maxFrames int) (Reader, error)
}
