// Package microphone acquires the system audio input through miniaudio.
package microphone

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voicelink/internal/service/recorder"
)

// Malgo implements recorder.Microphone on top of a malgo capture device.
type Malgo struct {
	logger zerolog.Logger
}

// NewMalgo returns a microphone backed by the default capture device.
func NewMalgo(logger zerolog.Logger) *Malgo {
	return &Malgo{logger: logger}
}

// Acquire opens the default capture device as signed 16-bit PCM and starts it.
// Echo cancellation and noise suppression are not exposed by miniaudio, so those
// constraints are logged and otherwise left to the OS audio stack.
func (m *Malgo) Acquire(ctx context.Context, c recorder.Constraints, onFrames func(pcm []int16)) (recorder.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, &recorder.PermissionError{Reason: "request cancelled", Err: err}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.logger.Debug().Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, &recorder.PermissionError{Reason: "init audio backend: " + err.Error(), Err: recorder.ErrNoInputDevice}
	}

	release := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil || len(devices) == 0 {
		release()
		return nil, &recorder.PermissionError{Reason: "enumerate capture devices", Err: recorder.ErrNoInputDevice}
	}

	if c.EchoCancellation || c.NoiseSuppression {
		m.logger.Debug().
			Bool("echo_cancellation", c.EchoCancellation).
			Bool("noise_suppression", c.NoiseSuppression).
			Msg("processing constraints delegated to the OS audio stack")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.Channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			onFrames(decodeS16(input))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		release()
		return nil, &recorder.PermissionError{Reason: "open capture device: " + err.Error(), Err: recorder.ErrPermissionDenied}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		release()
		return nil, &recorder.PermissionError{Reason: "start capture device: " + err.Error(), Err: recorder.ErrPermissionDenied}
	}

	m.logger.Info().
		Str("device", devices[0].Name()).
		Int("sample_rate", c.SampleRate).
		Int("channels", c.Channels).
		Msg("microphone acquired")

	return &malgoTrack{device: device, release: release, logger: m.logger}, nil
}

type malgoTrack struct {
	once    sync.Once
	device  *malgo.Device
	release func()
	logger  zerolog.Logger
}

// Stop halts the device before uninitializing it; later calls do nothing.
func (t *malgoTrack) Stop() error {
	var err error
	t.once.Do(func() {
		err = t.device.Stop()
		t.device.Uninit()
		t.release()
		t.logger.Info().Msg("microphone released")
	})
	return err
}

// decodeS16 converts little-endian 16-bit samples.
func decodeS16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return pcm
}
