package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/emiliacb/voice-agent/audio"
)

const (
	channels        = 1
	framesPerBuffer = 1024
)

var (
	// ErrCaptureUnavailable means no microphone could be opened. The client
	// keeps running; recording is simply disabled.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")

	// ErrRecordingTooShort means the user released before the minimum
	// duration. The recording is discarded, nothing is sent.
	ErrRecordingTooShort = errors.New("recording too short")
)

// Recorder captures microphone audio between Start and Stop. A hard cap
// halts capture automatically so a stuck key cannot record forever.
type Recorder struct {
	deviceID    int
	minDuration time.Duration
	maxDuration time.Duration

	mu        sync.Mutex
	stream    *portaudio.Stream
	samples   []int16
	recording bool
	capTimer  *time.Timer

	// AutoStopped receives one signal when the max-duration cap fires so
	// the caller can finalize the recording as if the user had stopped it.
	AutoStopped chan struct{}
}

// NewRecorder builds a recorder. deviceID <= 0 selects the default input
// device, matching the numbering printed by ListInputDevices.
func NewRecorder(deviceID int, minDuration, maxDuration time.Duration) *Recorder {
	return &Recorder{
		deviceID:    deviceID,
		minDuration: minDuration,
		maxDuration: maxDuration,
		AutoStopped: make(chan struct{}, 1),
	}
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start opens the input stream and begins buffering samples.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return nil
	}

	params, err := r.inputParams()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		r.mu.Lock()
		if r.recording {
			r.samples = append(r.samples, in...)
		}
		r.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	r.stream = stream
	r.samples = r.samples[:0]
	r.recording = true
	r.capTimer = time.AfterFunc(r.maxDuration, func() {
		r.mu.Lock()
		if !r.recording {
			r.mu.Unlock()
			return
		}
		r.haltLocked()
		r.mu.Unlock()
		slog.Info("Recording hit maximum duration", "maxDuration", r.maxDuration)
		select {
		case r.AutoStopped <- struct{}{}:
		default:
		}
	})

	slog.Debug("Recording started")
	return nil
}

// Stop ends the capture and returns the recording as a WAV clip. A
// recording shorter than the minimum is discarded with ErrRecordingTooShort.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.haltLocked()

	clip, err := finalize(r.samples, r.minDuration)
	r.samples = r.samples[:0]
	return clip, err
}

// finalize turns buffered samples into a WAV clip. Recordings shorter than
// minDuration are discarded so nothing downstream ever sees them.
func finalize(samples []int16, minDuration time.Duration) ([]byte, error) {
	duration := time.Duration(len(samples)) * time.Second / audio.SampleRate
	if len(samples) == 0 || duration < minDuration {
		slog.Debug("Discarding short recording", "duration", duration)
		return nil, ErrRecordingTooShort
	}

	wav := audio.EncodePCM(samples, audio.SampleRate)
	slog.Debug("Recording stopped", "duration", duration, "bytes", len(wav))
	return wav, nil
}

// haltLocked stops and releases the stream. Callers hold r.mu. The buffered
// samples survive so Stop can still return a clip after an auto-stop.
func (r *Recorder) haltLocked() {
	if r.capTimer != nil {
		r.capTimer.Stop()
		r.capTimer = nil
	}
	if r.stream != nil {
		if err := r.stream.Stop(); err != nil {
			slog.Error("Failed to stop audio stream", "error", err)
		}
		r.stream.Close()
		r.stream = nil
	}
	r.recording = false
}

func (r *Recorder) inputParams() (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo
	if r.deviceID > 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get audio devices: %w", err)
		}
		if r.deviceID >= len(devices) {
			return portaudio.StreamParameters{}, fmt.Errorf("invalid device ID %d", r.deviceID)
		}
		device = devices[r.deviceID]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, fmt.Errorf("device %q is not an input device", device.Name)
		}
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get default input device: %w", err)
		}
	}

	slog.Debug("Using audio device",
		"deviceName", device.Name,
		"sampleRate", device.DefaultSampleRate,
		"inputChannels", device.MaxInputChannels)

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(audio.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

// ListInputDevices returns the host's input-capable audio devices.
func ListInputDevices() ([]portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	inputs := make([]portaudio.DeviceInfo, 0)
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			inputs = append(inputs, *device)
		}
	}
	return inputs, nil
}
