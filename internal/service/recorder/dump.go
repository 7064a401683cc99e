package recorder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// pcmDump keeps the raw samples of one session for offline inspection.
type pcmDump struct {
	dir        string
	sampleRate int
	channels   int
	samples    []int
}

func newPCMDump(dir string, sampleRate, channels int) *pcmDump {
	return &pcmDump{dir: dir, sampleRate: sampleRate, channels: channels}
}

func (d *pcmDump) write(pcm []int16) {
	for _, s := range pcm {
		d.samples = append(d.samples, int(s))
	}
}

// save writes the samples as a 16-bit WAV file and returns its path.
// An empty session writes nothing.
func (d *pcmDump) save() (string, error) {
	if len(d.samples) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}

	path := filepath.Join(d.dir, fmt.Sprintf("voice-%s.wav", uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create dump file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, d.sampleRate, 16, d.channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: d.channels, SampleRate: d.sampleRate},
		Data:           d.samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	return path, nil
}
