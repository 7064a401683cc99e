// Package opuscodec encodes captured PCM as Opus in WebM or Ogg containers.
package opuscodec

import (
	"encoding/binary"
	"fmt"

	"github.com/jj11hh/opus"

	"github.com/zhouzirui/voicelink/internal/service/recorder"
)

// frameMillis is the Opus frame duration used for every packet.
const frameMillis = 20

// rtpClockRate is the fixed Opus RTP clock.
const rtpClockRate = 48000

// opusPreSkip is the libopus encoder lookahead in 48 kHz samples.
const opusPreSkip = 312

// opusHead builds the 19-byte identification header (RFC 7845 5.1) that the
// Matroska Opus mapping stores in CodecPrivate.
func opusHead(sampleRate, channels int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(sampleRate))
	// output gain 0, channel mapping family 0
	return head
}

// NewFactory returns an encoder factory covering webm, ogg and pcm.
func NewFactory() recorder.EncoderFactory {
	return func(cfg recorder.Config) (recorder.Encoder, error) {
		switch cfg.Codec {
		case recorder.CodecWebM, "":
			return NewWebMEncoder(cfg)
		case recorder.CodecOgg:
			return NewOggEncoder(cfg)
		case recorder.CodecPCM:
			return recorder.NewPCMEncoder(cfg)
		default:
			return nil, fmt.Errorf("unsupported codec %q", cfg.Codec)
		}
	}
}

// framer slices interleaved PCM into fixed Opus frames.
type framer struct {
	enc       *opus.Encoder
	frameLen  int // interleaved samples per frame
	pending   []int16
	packet    []byte
	encoded   int
	samplesPF int // samples per channel per frame
}

func newFramer(sampleRate, channels int) (*framer, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	perChannel := sampleRate * frameMillis / 1000
	return &framer{
		enc:       enc,
		frameLen:  perChannel * channels,
		samplesPF: perChannel,
		packet:    make([]byte, 4000),
	}, nil
}

// push encodes every complete frame in pcm and hands each packet to emit.
// The packet slice is reused; emit must copy it if it keeps it.
func (f *framer) push(pcm []int16, emit func(packet []byte, index int) error) error {
	f.pending = append(f.pending, pcm...)

	offset := 0
	for len(f.pending)-offset >= f.frameLen {
		if err := f.encodeFrame(f.pending[offset:offset+f.frameLen], emit); err != nil {
			return err
		}
		offset += f.frameLen
	}
	if offset > 0 {
		n := copy(f.pending, f.pending[offset:])
		f.pending = f.pending[:n]
	}
	return nil
}

// flush pads a trailing partial frame with silence and encodes it.
func (f *framer) flush(emit func(packet []byte, index int) error) error {
	if len(f.pending) == 0 {
		return nil
	}
	frame := make([]int16, f.frameLen)
	copy(frame, f.pending)
	f.pending = f.pending[:0]
	return f.encodeFrame(frame, emit)
}

func (f *framer) encodeFrame(frame []int16, emit func(packet []byte, index int) error) error {
	n, err := f.enc.Encode(frame, f.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	index := f.encoded
	f.encoded++
	return emit(f.packet[:n], index)
}
