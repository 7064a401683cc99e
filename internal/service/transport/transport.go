// Package transport manages the single persistent websocket the audio pipeline streams over.
package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrNotConnected is logged when a send is attempted without an open connection.
var ErrNotConnected = errors.New("websocket not connected")

// Callbacks are the observers a Transport notifies.
// Status notifications are serialized; OnStatus must not call Connect or Disconnect.
// OnMessage is invoked from the read goroutine, one frame at a time, in receipt order.
type Callbacks struct {
	OnStatus  func(Status)
	OnMessage func(text string)
}

// Options 连接选项
type Options struct {
	HandshakeTimeout time.Duration // 握手超时
	WriteTimeout     time.Duration // 单帧写超时
	ReadTimeout      time.Duration // 读超时，收到 pong 时续期；0 表示不设置
	PingInterval     time.Duration // ping 间隔；0 表示不发送
	Header           http.Header
}

// DefaultOptions 默认连接选项
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Transport owns at most one websocket connection at a time.
// There is no automatic reconnect: after a close or failure the caller decides.
type Transport struct {
	opts      Options
	callbacks Callbacks
	logger    zerolog.Logger

	// notifyMu orders state changes together with their notifications.
	notifyMu sync.Mutex

	mu      sync.Mutex
	status  Status
	conn    *websocket.Conn
	cancel  context.CancelFunc
	gen     uint64
	address string

	writeMu sync.Mutex
}

// New creates a disconnected transport.
func New(opts Options, callbacks Callbacks, logger zerolog.Logger) *Transport {
	return &Transport{
		opts:      opts,
		callbacks: callbacks,
		logger:    logger,
		status:    StatusDisconnected,
	}
}

// Status returns the current connection status.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Address returns the address of the last Connect call.
func (t *Transport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// Connect starts dialing address and returns immediately.
// It is a no-op while a connection is being established or is open.
func (t *Transport) Connect(address string) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.status == StatusConnecting || t.status == StatusConnected {
		t.mu.Unlock()
		t.logger.Debug().Str("address", address).Msg("connect ignored, connection already active")
		return
	}

	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.address = address
	t.status = StatusConnecting
	t.mu.Unlock()

	t.logger.Info().Str("address", address).Msg("connecting")
	t.notify(StatusConnecting)

	go t.run(ctx, gen, address)
}

// Disconnect closes the socket if open and always ends in StatusDisconnected.
func (t *Transport) Disconnect() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	t.gen++
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.cancel = nil
	changed := t.status != StatusDisconnected
	t.status = StatusDisconnected
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil {
			t.logger.Debug().Err(err).Msg("write close frame failed")
		}
		conn.Close()
		t.logger.Info().Msg("disconnected")
	}

	if changed {
		t.notify(StatusDisconnected)
	}
}

// SendBinary writes data as one binary frame.
// It returns false and logs a warning when no connection is open.
func (t *Transport) SendBinary(data []byte) bool {
	if !t.send(websocket.BinaryMessage, data) {
		return false
	}
	t.logger.Debug().Int("bytes", len(data)).Msg("sent binary frame")
	return true
}

// SendText writes text as one text frame, with the same contract as SendBinary.
func (t *Transport) SendText(text string) bool {
	if !t.send(websocket.TextMessage, []byte(text)) {
		return false
	}
	t.logger.Debug().Str("text", text).Msg("sent text frame")
	return true
}

func (t *Transport) send(messageType int, data []byte) bool {
	t.mu.Lock()
	conn, gen, status := t.conn, t.gen, t.status
	t.mu.Unlock()

	if conn == nil || status != StatusConnected {
		t.logger.Warn().Err(ErrNotConnected).Str("status", string(status)).Msg("send skipped")
		return false
	}

	t.writeMu.Lock()
	if t.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	}
	err := conn.WriteMessage(messageType, data)
	t.writeMu.Unlock()

	if err != nil {
		t.logger.Warn().Err(err).Msg("websocket write failed")
		// Asynchronous so a sender running inside OnStatus cannot deadlock on notifyMu.
		go t.fail(gen, StatusError)
		return false
	}
	return true
}

func (t *Transport) run(ctx context.Context, gen uint64, address string) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, address, t.opts.Header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn().Err(err).Str("address", address).Msg("websocket dial failed")
		t.fail(gen, StatusError)
		return
	}

	if !t.attach(gen, conn) {
		conn.Close()
		return
	}

	go t.pingLoop(ctx, conn)
	t.readLoop(gen, conn)
}

// attach installs conn as the open connection if gen is still current.
func (t *Transport) attach(gen uint64, conn *websocket.Conn) bool {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}
	t.conn = conn
	t.status = StatusConnected
	t.mu.Unlock()

	if t.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
			return nil
		})
	}

	t.logger.Info().Str("address", conn.RemoteAddr().String()).Msg("connected")
	t.notify(StatusConnected)
	return true
}

// fail moves the generation gen to status and releases its socket.
func (t *Transport) fail(gen uint64, status Status) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.cancel = nil
	changed := t.status != status
	t.status = status
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if changed {
		t.notify(status)
	}
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.fail(gen, closeStatus(err))
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn().Err(err).Msg("websocket read error")
			} else {
				t.logger.Debug().Err(err).Msg("websocket read loop finished")
			}
			return
		}

		if t.opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
		}

		if !t.current(gen) {
			return
		}
		if t.callbacks.OnMessage != nil {
			t.callbacks.OnMessage(decodeFrame(messageType, data))
		}
	}
}

// pingLoop 定期发送 ping 消息
func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if t.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timeout := t.opts.WriteTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			deadline := time.Now().Add(timeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) notify(status Status) {
	if t.callbacks.OnStatus != nil {
		t.callbacks.OnStatus(status)
	}
}

// closeStatus maps a read error to the status it leaves the transport in.
// Close frames, including abnormal closure, count as a close; anything else is a failure.
func closeStatus(err error) Status {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return StatusDisconnected
	}
	return StatusError
}

// decodeFrame turns any inbound frame into display text.
func decodeFrame(messageType int, data []byte) string {
	if messageType == websocket.BinaryMessage {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return string(data)
}
