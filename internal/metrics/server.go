package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
	"codeberg.org/mutker/racedash/internal/supervisor"
)

// StatusProvider reports the state of one supervised source.
type StatusProvider interface {
	Status() supervisor.Status
}

// SnapshotResponse is the /snapshot payload.
type SnapshotResponse struct {
	Seq       uint64                      `json:"seq"`
	Timestamp time.Time                   `json:"timestamp"`
	Values    map[channel.Channel]float64 `json:"values"`
	Gear      int                         `json:"gear"`
}

// HistoryResponse is the /history payload.
type HistoryResponse struct {
	Channel channel.Channel `json:"channel"`
	Unit    string          `json:"unit"`
	Samples []signal.Sample `json:"samples"`
}

// HistoryStore returns persisted snapshots, oldest first.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]signal.Snapshot, error)
}

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 10000
)

// ServerOption configures a Server.
type ServerOption func(*Server, *http.ServeMux)

// WithStreamer serves st on /stream.
func WithStreamer(st *Streamer) ServerOption {
	return func(_ *Server, mux *http.ServeMux) {
		mux.Handle("GET /stream", st)
	}
}

// WithHistoryStore serves store on /telemetry/recent?limit=N.
func WithHistoryStore(store HistoryStore) ServerOption {
	return func(s *Server, mux *http.ServeMux) {
		mux.HandleFunc("GET /telemetry/recent", func(w http.ResponseWriter, r *http.Request) {
			limit := defaultRecentLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
					return
				}
				limit = min(n, maxRecentLimit)
			}

			snapshots, err := store.Recent(r.Context(), limit)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to read stored snapshots")
				http.Error(w, "telemetry unavailable", http.StatusInternalServerError)
				return
			}

			out := make([]SnapshotResponse, 0, len(snapshots))
			for _, snapshot := range snapshots {
				out = append(out, newSnapshotResponse(snapshot))
			}
			s.writeJSON(w, http.StatusOK, out)
		})
	}
}

func newSnapshotResponse(snapshot signal.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		Seq:       snapshot.Seq,
		Timestamp: snapshot.Timestamp,
		Values:    snapshot.Map(),
		Gear:      channel.Gear(snapshot.Get(channel.Speed)),
	}
}

// Server serves /health, /metrics, /status, /snapshot, /history and the
// optional routes added by ServerOptions.
type Server struct {
	cfg      Config
	server   *http.Server
	listener net.Listener
	log      logger.Logger
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets /stream upgrade through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.status = http.StatusSwitchingProtocols

	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func NewServer(
	cfg Config,
	collector *Collector,
	reader signal.Reader,
	sources []StatusProvider,
	log logger.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		cfg: cfg,
		log: log,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		statuses := make([]supervisor.Status, 0, len(sources))
		for _, src := range sources {
			statuses = append(statuses, src.Status())
		}
		s.writeJSON(w, http.StatusOK, statuses)
	})
	mux.HandleFunc("GET /snapshot", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, newSnapshotResponse(reader.GetAll()))
	})
	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		c, err := channel.Parse(r.URL.Query().Get("channel"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		count := 0
		if raw := r.URL.Query().Get("count"); raw != "" {
			count, err = strconv.Atoi(raw)
			if err != nil || count < 0 {
				http.Error(w, "count must be a non-negative integer", http.StatusBadRequest)
				return
			}
		}

		s.writeJSON(w, http.StatusOK, HistoryResponse{
			Channel: c,
			Unit:    c.Unit(),
			Samples: reader.GetHistory(c, count),
		})
	})

	for _, opt := range opts {
		opt(s, mux)
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves in the background. Bind errors
// are returned; later serve errors are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.New().Wrap(ErrServe, err).WithData(s.cfg.Addr)
	}
	s.listener = listener

	s.log.Info().Str("listen_addr", listener.Addr().String()).Msg("Starting HTTP server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Str("listen_addr", s.cfg.Addr).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}

	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// ctx and a default timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrShutdown, err)
	}
	s.log.Debug().Msg("HTTP server stopped")

	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Str("remote", r.RemoteAddr).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}
