package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Codec names accepted in Config.Codec.
const (
	CodecWebM = "webm"
	CodecOgg  = "ogg"
	CodecPCM  = "pcm"
)

// Encoder turns captured PCM into container bytes.
// Drain hands over the bytes produced since the previous Drain; Close finalizes
// the stream and returns whatever was not drained yet.
type Encoder interface {
	Write(pcm []int16) error
	Drain() []byte
	Close() ([]byte, error)
	MimeType() string
	// Frames counts encoded units; zero means no audio was captured.
	Frames() int
}

// EncoderFactory builds a fresh encoder for each recording session.
type EncoderFactory func(cfg Config) (Encoder, error)

// Chunk is an immutable piece of encoded audio handed to OnChunkReady.
type Chunk struct {
	Data      []byte
	MimeType  string
	Index     int
	CreatedAt time.Time
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int {
	return len(c.Data)
}

// NewPCMEncoder returns an encoder that emits raw little-endian 16-bit samples.
func NewPCMEncoder(cfg Config) (Encoder, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format: rate=%d channels=%d", cfg.SampleRate, cfg.Channels)
	}
	return &pcmEncoder{
		mimeType: fmt.Sprintf("audio/L16;rate=%d;channels=%d", cfg.SampleRate, cfg.Channels),
	}, nil
}

type pcmEncoder struct {
	buf      bytes.Buffer
	frames   int
	mimeType string
	closed   bool
}

func (e *pcmEncoder) Write(pcm []int16) error {
	if e.closed {
		return fmt.Errorf("pcm encoder closed")
	}
	if len(pcm) == 0 {
		return nil
	}
	if err := binary.Write(&e.buf, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	e.frames++
	return nil
}

func (e *pcmEncoder) Drain() []byte {
	return drainBuffer(&e.buf)
}

func (e *pcmEncoder) Close() ([]byte, error) {
	e.closed = true
	return drainBuffer(&e.buf), nil
}

func (e *pcmEncoder) MimeType() string { return e.mimeType }

func (e *pcmEncoder) Frames() int { return e.frames }

// drainBuffer copies out and resets buf.
func drainBuffer(buf *bytes.Buffer) []byte {
	if buf.Len() == 0 {
		return nil
	}
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	buf.Reset()
	return data
}

// SinkBuffer is a mutex-guarded io.WriteCloser for container writers.
// Muxers such as ebml-go write from their own goroutine while Drain runs on
// the emitting one.
type SinkBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends p.
func (s *SinkBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Close is a no-op; the buffer stays readable.
func (s *SinkBuffer) Close() error { return nil }

// Len reports the number of undrained bytes.
func (s *SinkBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Drain copies out and resets the buffered bytes.
func (s *SinkBuffer) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return drainBuffer(&s.buf)
}
