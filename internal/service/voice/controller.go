// Package voice binds the recorder and the transport into the voice-capture widget.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voicelink/internal/logging"
	"github.com/zhouzirui/voicelink/internal/metrics"
	voicemodel "github.com/zhouzirui/voicelink/internal/model/voice"
	"github.com/zhouzirui/voicelink/internal/service/recorder"
	"github.com/zhouzirui/voicelink/internal/service/transport"
)

var (
	ErrNotConnected     = errors.New("recording requires an open connection")
	ErrAlreadyConnected = errors.New("connection already active")
	ErrInvalidAddress   = errors.New("address must be a ws:// or wss:// url")
)

// DefaultAddress is the peer the widget points at out of the box.
const DefaultAddress = "ws://localhost:8003/ws"

// DefaultSentinel marks the end of an utterance in single-shot mode.
const DefaultSentinel = "END"

// Config 控制器配置
type Config struct {
	DefaultAddress string
	Sentinel       string // 仅 single-shot 模式发送；为空则不发送
	FeedLimit      int
	Recorder       recorder.Config
	Transport      transport.Options
}

// State is the snapshot the UI renders.
type State struct {
	ID             string           `json:"id"`
	Status         transport.Status `json:"status"`
	Address        string           `json:"address"`
	Mode           recorder.Mode    `json:"mode"`
	IsRecording    bool             `json:"isRecording"`
	ElapsedSeconds int              `json:"elapsedSeconds"`
	Duration       string           `json:"duration"`
	CanRecord      bool             `json:"canRecord"`
}

// Controller owns one recorder and one transport.
type Controller struct {
	id        string
	cfg       Config
	recorder  *recorder.Recorder
	transport *transport.Transport
	logs      *voicemodel.Feed
	messages  *voicemodel.Feed
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// mu serializes user actions: connect, disconnect, toggle.
	mu          sync.Mutex
	userClosing atomic.Bool
}

// New wires a controller. A nil m gets unregistered collectors.
func New(cfg Config, mic recorder.Microphone, encoders recorder.EncoderFactory, m *metrics.Metrics, logger zerolog.Logger) *Controller {
	if cfg.DefaultAddress == "" {
		cfg.DefaultAddress = DefaultAddress
	}
	if m == nil {
		m = metrics.New(nil)
	}

	id := uuid.NewString()
	logger = logger.With().Str("controller", id).Logger()

	c := &Controller{
		id:       id,
		cfg:      cfg,
		logs:     voicemodel.NewFeed(cfg.FeedLimit),
		messages: voicemodel.NewFeed(cfg.FeedLimit),
		metrics:  m,
		logger:   logging.Component(logger, "controller"),
	}

	c.transport = transport.New(cfg.Transport, transport.Callbacks{
		OnStatus:  c.handleStatus,
		OnMessage: c.handleMessage,
	}, logging.Component(logger, "transport"))

	c.recorder = recorder.New(cfg.Recorder, mic, encoders, recorder.Callbacks{
		OnChunkReady: c.handleChunk,
		OnStop:       c.handleRecordingStop,
	}, logging.Component(logger, "recorder"))

	return c
}

// ID identifies the controller instance.
func (c *Controller) ID() string {
	return c.id
}

// Logs returns the activity log feed.
func (c *Controller) Logs() *voicemodel.Feed {
	return c.logs
}

// Messages returns the inbound message feed.
func (c *Controller) Messages() *voicemodel.Feed {
	return c.messages
}

// State returns the current UI state.
func (c *Controller) State() State {
	session := c.recorder.Session()
	status := c.transport.Status()
	address := c.transport.Address()
	if address == "" {
		address = c.cfg.DefaultAddress
	}
	return State{
		ID:             c.id,
		Status:         status,
		Address:        address,
		Mode:           c.recorder.Config().Mode,
		IsRecording:    session.IsRecording,
		ElapsedSeconds: session.ElapsedSeconds,
		Duration:       voicemodel.FormatDuration(session.ElapsedSeconds),
		CanRecord:      status == transport.StatusConnected,
	}
}

// Connect opens the connection to address, or to the default address when empty.
func (c *Controller) Connect(address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if address == "" {
		address = c.cfg.DefaultAddress
	}
	if err := validateAddress(address); err != nil {
		return err
	}

	switch c.transport.Status() {
	case transport.StatusConnecting, transport.StatusConnected:
		return ErrAlreadyConnected
	}

	c.logs.Append(fmt.Sprintf("Connecting to %s…", address))
	c.transport.Connect(address)
	return nil
}

// Disconnect stops any recording first so the microphone is released and
// pending audio is flushed before the socket closes.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder.IsRecording() {
		c.recorder.Stop()
		c.logs.Append("Recording stopped")
	}

	c.userClosing.Store(true)
	c.transport.Disconnect()
	c.userClosing.Store(false)

	c.logs.Append("Disconnected")
}

// ToggleRecording stops an active recording or starts one when connected.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder.IsRecording() {
		c.recorder.Stop()
		c.logs.Append("Recording stopped")
		return nil
	}

	if c.transport.Status() != transport.StatusConnected {
		return ErrNotConnected
	}

	if err := c.recorder.Start(ctx); err != nil {
		if recorder.IsPermissionError(err) {
			c.metrics.PermissionErrors.Inc()
			c.logs.Append("Microphone access denied")
		} else {
			c.logs.Append(fmt.Sprintf("Recording failed: %v", err))
		}
		return err
	}

	// the connection may have dropped while the microphone was being acquired
	if c.transport.Status() != transport.StatusConnected {
		if c.recorder.IsRecording() {
			c.recorder.Stop()
			c.logs.Append("Recording stopped — connection lost")
		}
		return ErrNotConnected
	}

	c.metrics.Recording.Set(1)
	c.logs.Append(startedMessage(c.recorder.Config()))
	return nil
}

// Close releases the microphone and the socket.
func (c *Controller) Close() {
	c.Disconnect()
}

func (c *Controller) handleChunk(chunk recorder.Chunk) {
	kb := fmt.Sprintf("%.1f", float64(chunk.Size())/1024)
	sentFmt, droppedFmt := "Sent audio: %s KB", "Audio ready (%s KB) — not connected"
	if c.recorder.Config().Mode == recorder.ModeTimesliced {
		sentFmt, droppedFmt = "Sent chunk: %s KB", "Chunk ready (%s KB) — not connected"
	}

	if c.transport.SendBinary(chunk.Data) {
		c.metrics.ChunksSent.Inc()
		c.metrics.BytesSent.Add(float64(chunk.Size()))
		c.logs.Append(fmt.Sprintf(sentFmt, kb))
		return
	}
	// at-most-once: the chunk is discarded.
	c.metrics.ChunksDropped.Inc()
	c.logs.Append(fmt.Sprintf(droppedFmt, kb))
}

func (c *Controller) handleRecordingStop() {
	c.metrics.Recording.Set(0)

	if c.recorder.Config().Mode != recorder.ModeSingleShot || c.cfg.Sentinel == "" {
		return
	}
	if c.transport.SendText(c.cfg.Sentinel) {
		c.metrics.SentinelsSent.Inc()
		c.logs.Append(fmt.Sprintf("Sent %s signal — waiting for transcription…", c.cfg.Sentinel))
		return
	}
	c.logs.Append(fmt.Sprintf("%s signal not sent — not connected", c.cfg.Sentinel))
}

func (c *Controller) handleStatus(status transport.Status) {
	c.metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
	c.logger.Debug().Str("status", string(status)).Msg("connection status changed")

	switch status {
	case transport.StatusConnected:
		c.logs.Append("Connected")
	case transport.StatusError:
		c.logs.Append("Connection error")
	case transport.StatusDisconnected:
		if !c.userClosing.Load() {
			c.logs.Append("Connection closed")
		}
	}

	if status != transport.StatusConnected && status != transport.StatusConnecting && c.recorder.IsRecording() {
		c.recorder.Stop()
		c.logs.Append("Recording stopped — connection lost")
	}
}

func (c *Controller) handleMessage(text string) {
	c.metrics.MessagesReceived.Inc()
	c.messages.Append(text)
}

func validateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrInvalidAddress
	}
	return nil
}

func startedMessage(cfg recorder.Config) string {
	format := codecLabel(cfg.Codec)
	if cfg.Mode == recorder.ModeTimesliced {
		return fmt.Sprintf("Recording started (%s, %s chunks)", format, formatSlice(cfg.Timeslice))
	}
	return fmt.Sprintf("Recording started (%s)", format)
}

func codecLabel(codec string) string {
	switch codec {
	case recorder.CodecOgg:
		return "Ogg/Opus"
	case recorder.CodecPCM:
		return "PCM"
	default:
		return "WebM/Opus"
	}
}

func formatSlice(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
