package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visiona/camcore/internal/camera"
	"github.com/visiona/camcore/internal/config"
	"github.com/visiona/camcore/internal/control"
	"github.com/visiona/camcore/internal/emitter"
	"github.com/visiona/camcore/internal/hardware"
	"github.com/visiona/camcore/internal/recorder"
)

const defaultConfigPath = "config/camcore.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting camcore service",
		"config", *configPath,
		"debug", *debug,
	)

	if err := run(*configPath); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}

	slog.Info("camcore service stopped successfully")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	messenger := emitter.NewMQTTMessenger(cfg)
	if err := messenger.Connect(ctx); err != nil {
		return fmt.Errorf("connecting messenger: %w", err)
	}
	defer messenger.Disconnect()

	provider := hardware.NewSimProvider(hardware.DefaultSimConfig())

	var recorderFactory hardware.RecorderFactory
	switch cfg.Camera.Recorder {
	case "sim":
		recorderFactory = provider.NewRecorder
	default:
		recorderFactory = recorder.New
	}

	preset, err := hardware.ParsePreset(cfg.Camera.Preset)
	if err != nil {
		return err
	}

	cam, err := camera.New(camera.Options{
		Name:      cfg.Camera.Device,
		Preset:    preset,
		Provider:  provider,
		Recorder:  recorderFactory,
		Render:    &hardware.SimTarget{},
		Messenger: messenger,
	})
	if err != nil {
		return fmt.Errorf("creating camera: %w", err)
	}
	defer cam.Dispose()

	handler := control.NewHandler(cfg, messenger.Client, callbacks(cam, messenger))
	if err := handler.Start(ctx); err != nil {
		return fmt.Errorf("starting control plane: %w", err)
	}

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)
	return shutdown(cam, handler, shutdownTimeout)
}

func shutdown(cam *camera.Camera, handler *control.Handler, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		handler.Stop()
		cam.Dispose()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// callbacks bridges the control plane's synchronous callback contract
// onto the camera's asynchronous command API. Each bridge blocks its
// caller (the control processing goroutine) until the camera completes
// the command on its dispatch goroutine.
func callbacks(cam *camera.Camera, messenger *emitter.MQTTMessenger) control.Callbacks {
	await := func(start func(done func(error))) error {
		ch := make(chan error, 1)
		start(func(err error) { ch <- err })
		return <-ch
	}

	return control.Callbacks{
		OnOpen: func() (map[string]interface{}, error) {
			ch := make(chan error, 1)
			var result camera.OpenResult
			cam.Open(func(res camera.OpenResult, err error) {
				result = res
				ch <- err
			})
			if err := <-ch; err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"preview_width":  result.PreviewWidth,
				"preview_height": result.PreviewHeight,
			}, nil
		},
		OnClose: func() error {
			return await(cam.Close)
		},
		OnTakePicture: func(path string) error {
			return await(func(done func(error)) { cam.TakePicture(path, done) })
		},
		OnStartVideo: func(path string) error {
			return await(func(done func(error)) { cam.StartVideoRecording(path, done) })
		},
		OnStopVideo: func() error {
			return await(cam.StopVideoRecording)
		},
		OnPauseVideo: func() error {
			return await(cam.PauseVideoRecording)
		},
		OnResumeVideo: func() error {
			return await(cam.ResumeVideoRecording)
		},
		OnStartImageStream: func() error {
			sink := camera.FrameSinkFunc(messenger.SendFrame)
			return await(func(done func(error)) { cam.StartImageStream(sink, done) })
		},
		OnStopImageStream: func() error {
			return await(cam.StopImageStream)
		},
		OnAcquireFocus: func(x, y float64) error {
			return await(func(done func(error)) {
				cam.AcquireFocus(camera.Point{X: x, Y: y}, done)
			})
		},
		OnSetFlash: func(mode string) error {
			m, err := camera.ParseFlashMode(mode)
			if err != nil {
				return err
			}
			return await(func(done func(error)) { cam.SetFlashMode(m, done) })
		},
		OnSetAutoFocus: func(enabled bool) error {
			return await(func(done func(error)) { cam.SetAutoFocus(enabled, done) })
		},
		OnSetOrientation: func(degrees int) error {
			cam.UpdateOrientation(degrees)
			return nil
		},
		OnGetStatus: func() map[string]interface{} {
			st := cam.Status()
			stats := messenger.Stats()
			return map[string]interface{}{
				"opened":         st.Opened,
				"lock_state":     st.LockState,
				"recording":      st.Recording,
				"streaming":      st.Streaming,
				"flash":          string(st.Flash),
				"auto_focus":     st.AutoFocus,
				"orientation":    st.Orientation,
				"mqtt_connected": stats.Connected,
				"frames_dropped": stats.Dropped,
				"publish_errors": stats.Errors,
			}
		},
	}
}
