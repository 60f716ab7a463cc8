package camera

import (
	"errors"
	"fmt"
)

// Code categorizes a command failure for the control plane.
type Code string

const (
	// CodeCameraAccess covers commands issued against a camera that is
	// closed, disposed or otherwise unavailable.
	CodeCameraAccess Code = "cameraAccess"
	// CodeFileExists rejects a capture destination that already exists.
	CodeFileExists Code = "fileExists"
	// CodeCaptureFailure covers still-capture faults inside the pipeline.
	CodeCaptureFailure Code = "captureFailure"
	// CodeCaptureInProgress rejects a still capture while one is pending.
	CodeCaptureInProgress Code = "captureInProgress"
	// CodeIOError covers filesystem faults while persisting media.
	CodeIOError Code = "IOError"
	// CodeRecordingFailed covers video recorder faults.
	CodeRecordingFailed Code = "videoRecordingFailed"
	// CodeFocusFailed covers manual focus sweep faults.
	CodeFocusFailed Code = "acquiringFocusFailed"
)

// Error is a categorized command failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

func errDisposed() error {
	return newError(CodeCameraAccess, "the camera has been disposed")
}

func errNotOpen() error {
	return newError(CodeCameraAccess, "the camera is not open")
}
