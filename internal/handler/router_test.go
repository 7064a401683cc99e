package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voicelink/internal/metrics"
	"github.com/zhouzirui/voicelink/internal/service/recorder"
	"github.com/zhouzirui/voicelink/internal/service/voice"
)

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ctrl := voice.New(voice.Config{Recorder: recorder.Config{Codec: recorder.CodecPCM}}, nil, nil, m, zerolog.Nop())
	t.Cleanup(ctrl.Close)
	return NewRouter(ctrl, reg, zerolog.Nop()), m
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"connection":"disconnected"`)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h, m := newTestRouter(t)
	m.ChunksDropped.Inc()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicelink_audio_chunks_dropped_total 1")
}

func TestRecordingWithoutConnectionConflicts(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/voice/recording", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}
