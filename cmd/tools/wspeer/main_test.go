package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerAcknowledgesAudioAndSentinel(t *testing.T) {
	srv := httptest.NewServer(newPeer("END", true, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 10)))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "received 10 bytes", string(reply))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 5)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("END")))
	_, reply, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "END received: 15 bytes total", string(reply))
}

func TestQuietPeerOnlyAnswersSentinel(t *testing.T) {
	srv := httptest.NewServer(newPeer("END", false, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 7)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("END")))

	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "END received: 7 bytes total", string(reply))
}
