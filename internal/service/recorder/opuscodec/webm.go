package opuscodec

import (
	"fmt"
	"time"

	"github.com/at-wat/ebml-go/webm"

	"github.com/zhouzirui/voicelink/internal/service/recorder"
)

// WebMMimeType matches what browsers report for MediaRecorder Opus output.
const WebMMimeType = "audio/webm;codecs=opus"

// WebMEncoder writes Opus packets as SimpleBlocks of a single-track WebM stream.
// The first drained bytes carry the EBML header; later drains are clusters.
type WebMEncoder struct {
	framer *framer
	sink   *recorder.SinkBuffer
	block  webm.BlockWriteCloser
	closed bool
}

// NewWebMEncoder starts a WebM stream for cfg.SampleRate and cfg.Channels.
func NewWebMEncoder(cfg recorder.Config) (*WebMEncoder, error) {
	fr, err := newFramer(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, err
	}

	sink := &recorder.SinkBuffer{}
	writers, err := webm.NewSimpleBlockWriter(sink, []webm.TrackEntry{{
		Name:         "Audio",
		TrackNumber:  1,
		TrackUID:     1,
		CodecID:      "A_OPUS",
		CodecPrivate: opusHead(cfg.SampleRate, cfg.Channels),
		CodecDelay:   uint64(opusPreSkip) * uint64(time.Second) / rtpClockRate,
		SeekPreRoll:  uint64(80 * time.Millisecond),
		TrackType:    2,
		Audio: &webm.Audio{
			SamplingFrequency: float64(cfg.SampleRate),
			Channels:          uint64(cfg.Channels),
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("create webm writer: %w", err)
	}

	return &WebMEncoder{framer: fr, sink: sink, block: writers[0]}, nil
}

// writePacket hands a copy of packet to the muxer goroutine; the framer
// reuses its packet buffer for the next frame.
func (e *WebMEncoder) writePacket(packet []byte, index int) error {
	payload := make([]byte, len(packet))
	copy(payload, packet)

	timestamp := int64(index * frameMillis)
	if _, err := e.block.Write(true, timestamp, payload); err != nil {
		return fmt.Errorf("write webm block: %w", err)
	}
	return nil
}

// Write encodes pcm; a trailing partial frame waits for more samples.
func (e *WebMEncoder) Write(pcm []int16) error {
	if e.closed {
		return fmt.Errorf("webm encoder closed")
	}
	return e.framer.push(pcm, e.writePacket)
}

// Drain returns the container bytes written since the last drain.
func (e *WebMEncoder) Drain() []byte {
	return e.sink.Drain()
}

// Close encodes the padded tail and finalizes the stream.
// block.Close returns once the muxer has written its last cluster.
func (e *WebMEncoder) Close() ([]byte, error) {
	if e.closed {
		return e.sink.Drain(), nil
	}
	e.closed = true

	flushErr := e.framer.flush(e.writePacket)
	if err := e.block.Close(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("close webm writer: %w", err)
	}
	return e.sink.Drain(), flushErr
}

// MimeType returns WebMMimeType.
func (e *WebMEncoder) MimeType() string { return WebMMimeType }

// Frames returns the number of Opus packets written.
func (e *WebMEncoder) Frames() int { return e.framer.encoded }
