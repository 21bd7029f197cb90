package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

const streamWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// Streamer pushes buffer snapshots to websocket clients. A snapshot is sent
// only when its sequence number moved since the previous push.
type Streamer struct {
	reader   signal.Reader
	interval time.Duration
	log      logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewStreamer(reader signal.Reader, interval time.Duration, log logger.Logger) *Streamer {
	return &Streamer{
		reader:   reader,
		interval: interval,
		log:      log,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.log.Debug().Str("remote", r.RemoteAddr).Int("clients", count).Msg("Stream client connected")

	// Clients only ever send control frames; reading drives the close handshake.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.remove(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (s *Streamer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clients)
}

// Run broadcasts until ctx is done, then closes every connection.
func (s *Streamer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			snapshot := s.reader.GetAll()
			if snapshot.Seq == last {
				continue
			}
			last = snapshot.Seq

			s.broadcast(newSnapshotResponse(snapshot))
		}
	}
}

func (s *Streamer) broadcast(msg SnapshotResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug().Err(err).Msg("Dropping stream client")
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Streamer) remove(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[conn]; ok {
		conn.Close()
		delete(s.clients, conn)
	}
}

func (s *Streamer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(streamWriteTimeout)
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		conn.Close()
		delete(s.clients, conn)
	}
}
