package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/metrics"
	"codeberg.org/mutker/racedash/internal/signal"
)

func TestStreamPushesChangedSnapshots(t *testing.T) {
	collector, err := metrics.NewCollector()
	require.NoError(t, err)

	buf := signal.NewBuffer(10)
	streamer := metrics.NewStreamer(buf, time.Millisecond, logger.Nop())
	srv := metrics.NewServer(metrics.DefaultConfig(), collector, buf, nil, logger.Nop(), metrics.WithStreamer(streamer))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamer.Run(ctx)
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return streamer.Clients() == 1 }, time.Second, time.Millisecond)

	buf.UpdateBatch(signal.Batch{channel.RPM: 7000, channel.Speed: 75})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg metrics.SnapshotResponse
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, uint64(1), msg.Seq)
	assert.InDelta(t, 7000.0, msg.Values[channel.RPM], 0)
	assert.Equal(t, 5, msg.Gear)

	buf.Update(channel.RPM, 7040)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, uint64(2), msg.Seq)

	cancel()
	<-done
	assert.Zero(t, streamer.Clients())

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestStreamRequiresUpgrade(t *testing.T) {
	streamer := metrics.NewStreamer(signal.NewBuffer(1), time.Millisecond, logger.Nop())

	rec := httptest.NewRecorder()
	streamer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
