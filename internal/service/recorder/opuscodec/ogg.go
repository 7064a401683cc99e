package opuscodec

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/zhouzirui/voicelink/internal/service/recorder"
)

// OggMimeType is reported for Opus in Ogg.
const OggMimeType = "audio/ogg;codecs=opus"

// OggEncoder writes Opus packets into Ogg pages using pion's oggwriter.
type OggEncoder struct {
	framer   *framer
	sink     *recorder.SinkBuffer
	writer   *oggwriter.OggWriter
	ticksPF  uint32
	sequence uint16
	closed   bool
}

// NewOggEncoder starts an Ogg/Opus stream; the ID and comment headers are written immediately.
func NewOggEncoder(cfg recorder.Config) (*OggEncoder, error) {
	fr, err := newFramer(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, err
	}

	sink := &recorder.SinkBuffer{}
	w, err := oggwriter.NewWith(sink, uint32(cfg.SampleRate), uint16(cfg.Channels))
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}

	return &OggEncoder{
		framer:  fr,
		sink:    sink,
		writer:  w,
		ticksPF: rtpClockRate * frameMillis / 1000,
	}, nil
}

func (e *OggEncoder) writePacket(packet []byte, index int) error {
	payload := make([]byte, len(packet))
	copy(payload, packet)

	e.sequence++
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: e.sequence,
			Timestamp:      uint32(index) * e.ticksPF,
		},
		Payload: payload,
	}
	if err := e.writer.WriteRTP(pkt); err != nil {
		return fmt.Errorf("write ogg page: %w", err)
	}
	return nil
}

// Write encodes pcm; a trailing partial frame waits for more samples.
func (e *OggEncoder) Write(pcm []int16) error {
	if e.closed {
		return fmt.Errorf("ogg encoder closed")
	}
	return e.framer.push(pcm, e.writePacket)
}

// Drain returns the pages written since the last drain.
func (e *OggEncoder) Drain() []byte {
	return e.sink.Drain()
}

// Close encodes the padded tail and closes the Ogg stream.
func (e *OggEncoder) Close() ([]byte, error) {
	if e.closed {
		return e.sink.Drain(), nil
	}
	e.closed = true

	flushErr := e.framer.flush(e.writePacket)
	if err := e.writer.Close(); err != nil && flushErr == nil {
		flushErr = fmt.Errorf("close ogg writer: %w", err)
	}
	return e.sink.Drain(), flushErr
}

// MimeType returns OggMimeType.
func (e *OggEncoder) MimeType() string { return OggMimeType }

// Frames returns the number of Opus packets written.
func (e *OggEncoder) Frames() int { return e.framer.encoded }
