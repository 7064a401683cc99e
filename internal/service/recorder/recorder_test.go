package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMic struct {
	err      error
	interval time.Duration
	samples  int

	mu          sync.Mutex
	acquired    int
	constraints Constraints
	tracks      []*fakeTrack
}

func (m *fakeMic) Acquire(_ context.Context, c Constraints, onFrames func([]int16)) (Track, error) {
	m.mu.Lock()
	m.acquired++
	m.constraints = c
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	tr := &fakeTrack{done: make(chan struct{}), finished: make(chan struct{})}
	m.mu.Lock()
	m.tracks = append(m.tracks, tr)
	m.mu.Unlock()

	go func() {
		defer close(tr.finished)
		if m.samples == 0 {
			<-tr.done
			return
		}
		interval := m.interval
		if interval == 0 {
			interval = 5 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tr.done:
				return
			case <-ticker.C:
				onFrames(make([]int16, m.samples))
				atomic.AddInt64(&tr.delivered, int64(m.samples))
			}
		}
	}()
	return tr, nil
}

type fakeTrack struct {
	once      sync.Once
	done      chan struct{}
	finished  chan struct{}
	stops     int32
	delivered int64
}

func (t *fakeTrack) Stop() error {
	atomic.AddInt32(&t.stops, 1)
	t.once.Do(func() { close(t.done) })
	<-t.finished
	return nil
}

// events records callback order.
type events struct {
	mu     sync.Mutex
	order  []string
	chunks []Chunk
	ticks  []int
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnChunkReady: func(c Chunk) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.order = append(e.order, "chunk")
			e.chunks = append(e.chunks, c)
		},
		OnStop: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.order = append(e.order, "stop")
		},
		OnTick: func(n int) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.ticks = append(e.ticks, n)
		},
	}
}

func (e *events) snapshot() ([]string, []Chunk, []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...), append([]Chunk(nil), e.chunks...), append([]int(nil), e.ticks...)
}

func pcmConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Codec = CodecPCM
	cfg.Timeslice = 50 * time.Millisecond
	cfg.TickInterval = 50 * time.Millisecond
	return cfg
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	ev := &events{}
	rec := New(pcmConfig(ModeSingleShot), &fakeMic{samples: 480}, nil, ev.callbacks(), zerolog.Nop())

	rec.Stop()
	rec.Stop()

	order, _, _ := ev.snapshot()
	assert.Empty(t, order)
	assert.False(t, rec.IsRecording())
}

func TestStartRequestsProcessingConstraints(t *testing.T) {
	mic := &fakeMic{samples: 480}
	rec := New(pcmConfig(ModeSingleShot), mic, nil, Callbacks{}, zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	defer rec.Stop()

	mic.mu.Lock()
	defer mic.mu.Unlock()
	assert.True(t, mic.constraints.EchoCancellation)
	assert.True(t, mic.constraints.NoiseSuppression)
	assert.Equal(t, 48000, mic.constraints.SampleRate)
	assert.Equal(t, 1, mic.constraints.Channels)
}

func TestNestedStartIsRejected(t *testing.T) {
	mic := &fakeMic{samples: 480}
	rec := New(pcmConfig(ModeSingleShot), mic, nil, Callbacks{}, zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	defer rec.Stop()

	err := rec.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRecording)

	mic.mu.Lock()
	defer mic.mu.Unlock()
	assert.Equal(t, 1, mic.acquired)
}

func TestPermissionDeniedLeavesRecorderIdle(t *testing.T) {
	ev := &events{}
	mic := &fakeMic{err: ErrPermissionDenied}
	rec := New(pcmConfig(ModeSingleShot), mic, nil, ev.callbacks(), zerolog.Nop())

	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, rec.IsRecording())

	time.Sleep(150 * time.Millisecond)
	order, _, ticks := ev.snapshot()
	assert.Empty(t, ticks, "no timer should run after a failed start")
	assert.Empty(t, order)
	assert.Equal(t, 0, rec.Elapsed())

	rec.Stop()
	order, _, _ = ev.snapshot()
	assert.Empty(t, order)
}

func TestMissingMicrophoneIsPermissionError(t *testing.T) {
	rec := New(pcmConfig(ModeSingleShot), nil, nil, Callbacks{}, zerolog.Nop())

	err := rec.Start(context.Background())
	assert.True(t, IsPermissionError(err))
	assert.ErrorIs(t, err, ErrNoInputDevice)
}

func TestSingleShotEmitsOneChunkThenStop(t *testing.T) {
	ev := &events{}
	mic := &fakeMic{samples: 480}
	rec := New(pcmConfig(ModeSingleShot), mic, nil, ev.callbacks(), zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(120 * time.Millisecond)
	rec.Stop()

	order, chunks, _ := ev.snapshot()
	require.Equal(t, []string{"chunk", "stop"}, order)

	mic.mu.Lock()
	delivered := atomic.LoadInt64(&mic.tracks[0].delivered)
	mic.mu.Unlock()
	assert.Equal(t, int(delivered)*2, chunks[0].Size())
	assert.Equal(t, "audio/L16;rate=48000;channels=1", chunks[0].MimeType)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSingleShotWithoutAudioOnlyStops(t *testing.T) {
	ev := &events{}
	rec := New(pcmConfig(ModeSingleShot), &fakeMic{}, nil, ev.callbacks(), zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	rec.Stop()

	order, _, _ := ev.snapshot()
	assert.Equal(t, []string{"stop"}, order)
}

func TestTimeslicedChunkCountTracksDuration(t *testing.T) {
	ev := &events{}
	cfg := pcmConfig(ModeTimesliced)
	rec := New(cfg, &fakeMic{samples: 480}, nil, ev.callbacks(), zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(175 * time.Millisecond)
	rec.Stop()

	order, chunks, _ := ev.snapshot()
	require.NotEmpty(t, order)
	assert.Equal(t, "stop", order[len(order)-1])

	expected := int((175 * time.Millisecond) / cfg.Timeslice)
	assert.GreaterOrEqual(t, len(chunks), expected-1)
	assert.LessOrEqual(t, len(chunks), expected+1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotZero(t, c.Size())
	}
	assert.InDelta(t, 3, rec.Elapsed(), 1)
}

func TestElapsedResetsOnStart(t *testing.T) {
	rec := New(pcmConfig(ModeTimesliced), &fakeMic{samples: 480}, nil, Callbacks{}, zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(120 * time.Millisecond)
	rec.Stop()
	require.Greater(t, rec.Elapsed(), 0)
	assert.False(t, rec.Session().IsRecording)

	require.NoError(t, rec.Start(context.Background()))
	defer rec.Stop()
	session := rec.Session()
	assert.True(t, session.IsRecording)
	assert.LessOrEqual(t, session.ElapsedSeconds, 1)
}

func TestStopReleasesTrackOnce(t *testing.T) {
	mic := &fakeMic{samples: 480}
	rec := New(pcmConfig(ModeSingleShot), mic, nil, Callbacks{}, zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	rec.Stop()
	rec.Stop()

	mic.mu.Lock()
	defer mic.mu.Unlock()
	require.Len(t, mic.tracks, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&mic.tracks[0].stops))
}

func TestEncoderFailureDoesNotAcquireMicrophone(t *testing.T) {
	mic := &fakeMic{samples: 480}
	broken := func(Config) (Encoder, error) { return nil, errors.New("codec unavailable") }
	rec := New(pcmConfig(ModeSingleShot), mic, broken, Callbacks{}, zerolog.Nop())

	err := rec.Start(context.Background())
	require.Error(t, err)
	assert.False(t, IsPermissionError(err))

	mic.mu.Lock()
	defer mic.mu.Unlock()
	assert.Zero(t, mic.acquired)
}

func TestDebugDumpWritesWav(t *testing.T) {
	dir := t.TempDir()
	cfg := pcmConfig(ModeSingleShot)
	cfg.DebugDumpDir = dir
	rec := New(cfg, &fakeMic{samples: 480}, nil, Callbacks{}, zerolog.Nop())

	require.NoError(t, rec.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	rec.Stop()

	matches, err := filepath.Glob(filepath.Join(dir, "voice-*.wav"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, wav.NewDecoder(f).IsValidFile())
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("timesliced")
	require.NoError(t, err)
	assert.Equal(t, ModeTimesliced, mode)

	_, err = ParseMode("streaming")
	assert.Error(t, err)
}
