package sinks

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/progress"
)

func TestWebSocketSinkBroadcasts(t *testing.T) {
	t.Parallel()

	sink := NewWebSocketSink(nil)
	srv := httptest.NewServer(sink)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.Eventually(t, func() bool { return sink.Clients() == 1 }, time.Second, 5*time.Millisecond)

	runID := uuid.New()
	batch := []progress.Event{{RunID: runID, TS: time.Now().UTC(), Stage: progress.StageRunStart}}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got []progress.Event
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	require.Equal(t, runID, got[0].RunID)
	require.Equal(t, progress.StageRunStart, got[0].Stage)

	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 0, sink.Clients())
}

func TestWebSocketSinkConsumeWithoutClients(t *testing.T) {
	t.Parallel()

	sink := NewWebSocketSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{RunID: uuid.New(), TS: time.Now(), Stage: progress.StageRunDone}}))
	require.NoError(t, sink.Close(context.Background()))
}
