package recorder

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkBufferConcurrentWriteAndDrain(t *testing.T) {
	sink := &SinkBuffer{}

	const writes = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			sink.Write(bytes.Repeat([]byte{byte(i)}, 32))
		}
	}()

	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		out.Write(sink.Drain())
	}
	out.Write(sink.Drain())

	require.Equal(t, writes*32, out.Len())
	for i := 0; i < writes; i++ {
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 32), out.Bytes()[i*32:(i+1)*32])
	}
	assert.Zero(t, sink.Len())
	assert.NoError(t, sink.Close())
}

func TestPCMEncoderDrainsLittleEndian(t *testing.T) {
	enc, err := NewPCMEncoder(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, enc.Write([]int16{1, -2}))
	require.NoError(t, enc.Write(nil))
	assert.Equal(t, 1, enc.Frames())
	assert.Equal(t, []byte{0x01, 0x00, 0xFE, 0xFF}, enc.Drain())
	assert.Nil(t, enc.Drain())

	tail, err := enc.Close()
	require.NoError(t, err)
	assert.Nil(t, tail)
	assert.Error(t, enc.Write([]int16{1}))
}
