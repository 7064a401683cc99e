package voice

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	voicemodel "github.com/zhouzirui/voicelink/internal/model/voice"
	"github.com/zhouzirui/voicelink/internal/service/recorder"
	voiceservice "github.com/zhouzirui/voicelink/internal/service/voice"
	"github.com/zhouzirui/voicelink/pkg/utils"
)

// Controller 语音控制器接口，便于测试替换。
type Controller interface {
	State() voiceservice.State
	Connect(address string) error
	Disconnect()
	ToggleRecording(ctx context.Context) error
	Logs() *voicemodel.Feed
	Messages() *voicemodel.Feed
}

// Handler 语音控件的HTTP处理器
type Handler struct {
	ctrl          Controller
	logger        zerolog.Logger
	stateInterval time.Duration
}

// New 创建语音处理器
func New(ctrl Controller, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:          ctrl,
		logger:        logger,
		stateInterval: time.Second,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/voice", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)
		r.Post("/recording", h.handleToggleRecording)
		r.Get("/logs", h.handleLogs)
		r.Get("/messages", h.handleMessages)
		r.Get("/events", h.handleEvents)
	})
}

type connectRequest struct {
	Address string `json:"address"`
}

type feedResponse struct {
	Entries []voicemodel.Entry `json:"entries"`
	Limit   int                `json:"limit"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.ctrl.State())
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ctrl.Connect(req.Address); err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, h.ctrl.State())
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Disconnect()
	utils.RespondJSON(w, http.StatusOK, h.ctrl.State())
}

func (h *Handler) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	// the capture outlives this request
	if err := h.ctrl.ToggleRecording(context.WithoutCancel(r.Context())); err != nil {
		h.respondControllerError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.ctrl.State())
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	feed := h.ctrl.Logs()
	utils.RespondJSON(w, http.StatusOK, feedResponse{Entries: feed.List(), Limit: feed.Limit()})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	feed := h.ctrl.Messages()
	utils.RespondJSON(w, http.StatusOK, feedResponse{Entries: feed.List(), Limit: feed.Limit()})
}

// handleEvents 以 SSE 推送日志、消息以及周期性的状态快照
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	logs, cancelLogs := h.ctrl.Logs().Subscribe(32)
	defer cancelLogs()
	messages, cancelMessages := h.ctrl.Messages().Subscribe(32)
	defer cancelMessages()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	h.logger.Debug().Msg("event stream opened")
	defer h.logger.Debug().Msg("event stream closed")

	if err := utils.SendSSEEvent(w, flusher, "state", h.ctrl.State()); err != nil {
		return
	}

	ticker := time.NewTicker(h.stateInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-logs:
			if !ok {
				return
			}
			err = utils.SendSSEEvent(w, flusher, "log", entry)
		case entry, ok := <-messages:
			if !ok {
				return
			}
			err = utils.SendSSEEvent(w, flusher, "message", entry)
		case <-ticker.C:
			err = utils.SendSSEEvent(w, flusher, "state", h.ctrl.State())
		}
		if err != nil {
			h.logger.Debug().Err(err).Msg("event stream write failed")
			return
		}
	}
}

func (h *Handler) respondControllerError(w http.ResponseWriter, err error) {
	var permErr *recorder.PermissionError
	switch {
	case errors.Is(err, voiceservice.ErrInvalidAddress):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, voiceservice.ErrAlreadyConnected),
		errors.Is(err, voiceservice.ErrNotConnected),
		errors.Is(err, recorder.ErrAlreadyRecording):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &permErr):
		utils.RespondError(w, http.StatusForbidden, "microphone access denied")
	default:
		h.logger.Error().Err(err).Msg("voice request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
