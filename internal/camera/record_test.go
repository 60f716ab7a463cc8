package camera

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStartVideoRecordingOrdering(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")

	ch := make(chan error, 1)
	cam.StartVideoRecording(path, func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("StartVideoRecording: %v", err)
	}

	// the encoder starts only after the session is configured and the
	// repeating request is running
	journal := p.Journal()
	idx := map[string]int{}
	for i, e := range journal {
		idx[e] = i // last occurrence
	}
	if idx["recorder_start"] < idx["configure_session"] {
		t.Errorf("recorder started before session configured: %v", journal)
	}
	if idx["recorder_start"] < idx["set_repeating"] {
		t.Errorf("recorder started before repeating request: %v", journal)
	}
	if st := cam.Status(); st.Recording != "active" {
		t.Errorf("recording state = %s, want active", st.Recording)
	}
}

func TestStartVideoRecordingRejectsExistingFile(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	ch := make(chan error, 1)
	cam.StartVideoRecording(path, func(err error) { ch <- err })
	err := waitErr(t, ch)
	if !IsCode(err, CodeFileExists) {
		t.Fatalf("error = %v, want %s", err, CodeFileExists)
	}
	if got := countJournal(p, "prepare_recorder"); got != 0 {
		t.Errorf("prepare_recorder count = %d, want 0", got)
	}
}

func TestStartVideoRecordingWhileActiveRejected(t *testing.T) {
	cam, _, _ := newTestCamera(t)
	dir := t.TempDir()

	ch := make(chan error, 1)
	cam.StartVideoRecording(filepath.Join(dir, "a.mp4"), func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("first start: %v", err)
	}

	cam.StartVideoRecording(filepath.Join(dir, "b.mp4"), func(err error) { ch <- err })
	err := waitErr(t, ch)
	if !IsCode(err, CodeRecordingFailed) {
		t.Fatalf("error = %v, want %s", err, CodeRecordingFailed)
	}
}

func TestStopVideoRecordingReturnsToPreview(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")

	ch := make(chan error, 1)
	cam.StartVideoRecording(path, func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionsBefore := countJournal(p, "configure_session")

	cam.StopVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := countJournal(p, "recorder_stop"); got != 1 {
		t.Errorf("recorder_stop count = %d, want 1", got)
	}
	if got := countJournal(p, "configure_session"); got != sessionsBefore+1 {
		t.Errorf("configure_session count = %d, want %d (preview restored)", got, sessionsBefore+1)
	}
	if st := cam.Status(); st.Recording != "idle" {
		t.Errorf("recording state = %s, want idle", st.Recording)
	}
}

func TestStopVideoRecordingIdleIsNoop(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	before := len(p.Journal())

	ch := make(chan error, 1)
	cam.StopVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("stop on idle camera: %v", err)
	}
	if got := len(p.Journal()); got != before {
		t.Errorf("journal grew by %d entries, want 0", got-before)
	}
}

func TestPauseResumeRecording(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")

	ch := make(chan error, 1)
	cam.StartVideoRecording(path, func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("start: %v", err)
	}

	cam.PauseVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st := cam.Status(); st.Recording != "paused" {
		t.Errorf("recording state = %s, want paused", st.Recording)
	}

	// pausing again is a no-op, not an error
	cam.PauseVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if got := countJournal(p, "recorder_pause"); got != 1 {
		t.Errorf("recorder_pause count = %d, want 1", got)
	}

	cam.ResumeVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st := cam.Status(); st.Recording != "active" {
		t.Errorf("recording state = %s, want active", st.Recording)
	}
}

func TestPauseWhenIdleIsNoop(t *testing.T) {
	cam, p, _ := newTestCamera(t)

	ch := make(chan error, 1)
	cam.PauseVideoRecording(func(err error) { ch <- err })
	if err := waitErr(t, ch); err != nil {
		t.Fatalf("pause on idle camera: %v", err)
	}
	if got := countJournal(p, "recorder_pause"); got != 0 {
		t.Errorf("recorder_pause count = %d, want 0", got)
	}
}

func TestStartVideoRecordingEncoderFailure(t *testing.T) {
	cam, p, _ := newTestCamera(t)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	p.FailRecorderStart = errors.New("encoder refused to start")

	ch := make(chan error, 1)
	cam.StartVideoRecording(path, func(err error) { ch <- err })
	err := waitErr(t, ch)
	if !IsCode(err, CodeRecordingFailed) {
		t.Fatalf("error = %v, want %s", err, CodeRecordingFailed)
	}
	// the camera never counted as recording
	if st := cam.Status(); st.Recording != "idle" {
		t.Errorf("recording state = %s, want idle", st.Recording)
	}
	if got := countJournal(p, "recorder_release"); got != 1 {
		t.Errorf("recorder_release count = %d, want 1", got)
	}
}
