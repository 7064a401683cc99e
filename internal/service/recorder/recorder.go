// Package recorder captures microphone audio and emits it as encoded chunks.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mode selects how encoded audio is handed to OnChunkReady.
type Mode string

const (
	// ModeTimesliced emits a chunk every Config.Timeslice while recording.
	ModeTimesliced Mode = "timesliced"
	// ModeSingleShot buffers the whole session and emits one chunk on Stop.
	ModeSingleShot Mode = "single-shot"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTimesliced, ModeSingleShot:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown emission mode %q", s)
}

// Config 录音配置
type Config struct {
	Mode         Mode
	Timeslice    time.Duration // timesliced 模式下的分片间隔
	TickInterval time.Duration // 录音时长计时间隔，默认 1s
	Codec        string
	SampleRate   int
	Channels     int
	DebugDumpDir string // 非空时把每次录音的原始 PCM 另存为 WAV
}

// DefaultConfig returns the single-shot Opus/WebM configuration.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeSingleShot,
		Timeslice:    time.Second,
		TickInterval: time.Second,
		Codec:        CodecWebM,
		SampleRate:   48000,
		Channels:     1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Timeslice <= 0 {
		c.Timeslice = def.Timeslice
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	return c
}

// Constraints describe the capture requested from the microphone.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int
}

// Microphone grants access to an audio input device.
// Acquire delivers interleaved PCM to onFrames until the returned Track is stopped.
type Microphone interface {
	Acquire(ctx context.Context, constraints Constraints, onFrames func(pcm []int16)) (Track, error)
}

// Track is an acquired input; Stop releases the hardware and must be safe to call twice.
type Track interface {
	Stop() error
}

// Callbacks are invoked in this order per session: zero or more OnChunkReady,
// then exactly one OnStop. OnTick reports elapsed seconds once per tick.
// Callbacks must not call Stop on the same recorder.
type Callbacks struct {
	OnChunkReady func(Chunk)
	OnStop       func()
	OnTick       func(elapsedSeconds int)
}

// Session is a snapshot of the recording state.
type Session struct {
	IsRecording    bool `json:"isRecording"`
	ElapsedSeconds int  `json:"elapsedSeconds"`
}

// Recorder runs at most one capture session at a time: idle -> recording -> idle.
type Recorder struct {
	cfg        Config
	mic        Microphone
	newEncoder EncoderFactory
	callbacks  Callbacks
	logger     zerolog.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu         sync.Mutex
	recording  bool
	elapsed    int
	track      Track
	encoder    Encoder
	dump       *pcmDump
	chunkIndex int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates an idle recorder. A nil factory selects NewPCMEncoder.
func New(cfg Config, mic Microphone, factory EncoderFactory, callbacks Callbacks, logger zerolog.Logger) *Recorder {
	if factory == nil {
		factory = NewPCMEncoder
	}
	return &Recorder{
		cfg:        cfg.withDefaults(),
		mic:        mic,
		newEncoder: factory,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config {
	return r.cfg
}

// Start acquires the microphone and begins a session.
// A denied or missing microphone yields a *PermissionError and leaves the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.mu.Unlock()

	if r.mic == nil {
		return &PermissionError{Reason: "no microphone configured", Err: ErrNoInputDevice}
	}

	enc, err := r.newEncoder(r.cfg)
	if err != nil {
		return fmt.Errorf("create %s encoder: %w", r.cfg.Codec, err)
	}

	r.mu.Lock()
	r.encoder = enc
	r.chunkIndex = 0
	if r.cfg.DebugDumpDir != "" {
		r.dump = newPCMDump(r.cfg.DebugDumpDir, r.cfg.SampleRate, r.cfg.Channels)
	}
	r.mu.Unlock()

	constraints := Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       r.cfg.SampleRate,
		Channels:         r.cfg.Channels,
	}
	track, err := r.mic.Acquire(ctx, constraints, r.handleFrames)
	if err != nil {
		r.mu.Lock()
		r.encoder = nil
		r.dump = nil
		r.mu.Unlock()
		enc.Close()

		if !IsPermissionError(err) {
			err = &PermissionError{Reason: "acquire microphone", Err: err}
		}
		r.logger.Warn().Err(err).Msg("recording not started")
		return err
	}

	stopCh := make(chan struct{})
	r.mu.Lock()
	r.track = track
	r.recording = true
	r.elapsed = 0
	r.stopCh = stopCh
	r.mu.Unlock()

	r.wg.Add(1)
	go r.tickLoop(stopCh)
	if r.cfg.Mode == ModeTimesliced {
		r.wg.Add(1)
		go r.emitLoop(stopCh)
	}

	r.logger.Info().
		Str("mode", string(r.cfg.Mode)).
		Str("mime", enc.MimeType()).
		Dur("timeslice", r.cfg.Timeslice).
		Msg("recording started")
	return nil
}

// Stop ends the session. It is a no-op when not recording.
// The microphone is released before any remaining audio is emitted; OnStop fires last.
func (r *Recorder) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.recording = false
	track := r.track
	stopCh := r.stopCh
	r.track = nil
	r.stopCh = nil
	r.mu.Unlock()

	if err := track.Stop(); err != nil {
		r.logger.Warn().Err(err).Msg("release microphone failed")
	}
	close(stopCh)
	r.wg.Wait()

	r.mu.Lock()
	enc := r.encoder
	dump := r.dump
	r.encoder = nil
	r.dump = nil
	r.mu.Unlock()

	rest, err := enc.Close()
	if err != nil {
		r.logger.Warn().Err(err).Msg("finalize encoder failed")
	}
	if enc.Frames() > 0 && len(rest) > 0 {
		r.emit(r.newChunk(rest, enc.MimeType()))
	}

	if dump != nil {
		if path, err := dump.save(); err != nil {
			r.logger.Warn().Err(err).Msg("write debug audio failed")
		} else if path != "" {
			r.logger.Info().Str("path", path).Msg("wrote debug audio")
		}
	}

	r.logger.Info().Int("elapsed", r.Elapsed()).Int("frames", enc.Frames()).Msg("recording stopped")

	if r.callbacks.OnStop != nil {
		r.callbacks.OnStop()
	}
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Elapsed returns the elapsed seconds of the current or last session.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Session returns a snapshot of the recording state.
func (r *Recorder) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Session{IsRecording: r.recording, ElapsedSeconds: r.elapsed}
}

func (r *Recorder) handleFrames(pcm []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	if err := r.encoder.Write(pcm); err != nil {
		r.logger.Warn().Err(err).Msg("encode audio failed")
		return
	}
	if r.dump != nil {
		r.dump.write(pcm)
	}
}

func (r *Recorder) tickLoop(stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.elapsed++
			elapsed := r.elapsed
			r.mu.Unlock()
			if r.callbacks.OnTick != nil {
				r.callbacks.OnTick(elapsed)
			}
		}
	}
}

func (r *Recorder) emitLoop(stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush emits whatever the encoder produced since the last slice.
// Container headers are held back until the first frame is encoded.
func (r *Recorder) flush() {
	r.mu.Lock()
	if r.encoder == nil || r.encoder.Frames() == 0 {
		r.mu.Unlock()
		return
	}
	data := r.encoder.Drain()
	mimeType := r.encoder.MimeType()
	r.mu.Unlock()

	if len(data) == 0 {
		return
	}
	r.emit(r.newChunk(data, mimeType))
}

func (r *Recorder) newChunk(data []byte, mimeType string) Chunk {
	r.mu.Lock()
	index := r.chunkIndex
	r.chunkIndex++
	r.mu.Unlock()
	return Chunk{Data: data, MimeType: mimeType, Index: index, CreatedAt: time.Now()}
}

func (r *Recorder) emit(chunk Chunk) {
	r.logger.Debug().Int("index", chunk.Index).Int("bytes", chunk.Size()).Msg("chunk ready")
	if r.callbacks.OnChunkReady != nil {
		r.callbacks.OnChunkReady(chunk)
	}
}
