// wspeer is a local websocket peer for exercising voicelink by hand.
// It acknowledges audio frames and answers the end-of-utterance sentinel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/voicelink/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8003", "监听地址")
	path := flag.String("path", "/ws", "websocket 路径")
	sentinel := flag.String("sentinel", "END", "结束信号文本")
	quiet := flag.Bool("quiet", false, "不回复每个音频帧")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "debug"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	r.Get(*path, newPeer(*sentinel, !*quiet, logger).ServeHTTP)

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Str("path", *path).Msg("wspeer listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

type peer struct {
	sentinel string
	ack      bool
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func newPeer(sentinel string, ack bool, logger zerolog.Logger) *peer {
	return &peer{
		sentinel: sentinel,
		ack:      ack,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (p *peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := p.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("client connected")

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	total := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("read failed")
			}
			logger.Info().Int("total_bytes", total).Msg("client disconnected")
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var reply string
		switch {
		case kind == websocket.BinaryMessage:
			total += len(data)
			logger.Debug().Int("bytes", len(data)).Msg("audio frame")
			if p.ack {
				reply = fmt.Sprintf("received %d bytes", len(data))
			}
		case string(data) == p.sentinel:
			logger.Info().Int("total_bytes", total).Msg("sentinel received")
			reply = fmt.Sprintf("%s received: %d bytes total", p.sentinel, total)
			total = 0
		default:
			logger.Debug().Str("text", string(data)).Msg("text frame")
		}

		if reply == "" {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			logger.Warn().Err(err).Msg("write failed")
			return
		}
	}
}
