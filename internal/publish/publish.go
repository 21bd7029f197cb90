// Package publish forwards buffer snapshots to a NATS subject so that
// consumers outside the process can follow the car live.
package publish

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Message is the JSON payload sent for every snapshot.
type Message struct {
	Seq       uint64                      `json:"seq"`
	Timestamp time.Time                   `json:"timestamp"`
	Values    map[channel.Channel]float64 `json:"values"`
	Gear      int                         `json:"gear"`
}

type Publisher struct {
	mu      sync.Mutex
	conn    Conn
	subject string
	log     logger.Logger
}

// Connect dials the configured server. The connection reconnects forever
// once established; only the initial dial can fail.
func Connect(cfg Config, log logger.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("racedash"),
		nats.ReconnectWait(defaultReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug().Msg("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrConnect, err)
	}

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("NATS connected")

	return New(conn, cfg.Subject, log), nil
}

func New(conn Conn, subject string, log logger.Logger) *Publisher {
	return &Publisher{conn: conn, subject: subject, log: log}
}

// Publish sends one snapshot. It is a no-op after Close.
func (p *Publisher) Publish(snapshot signal.Snapshot) error {
	data, err := json.Marshal(Message{
		Seq:       snapshot.Seq,
		Timestamp: snapshot.Timestamp,
		Values:    snapshot.Map(),
		Gear:      channel.Gear(snapshot.Get(channel.Speed)),
	})
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}

	return nil
}

// Run publishes every new snapshot until ctx is done. Snapshots whose
// sequence number did not move are skipped.
func (p *Publisher) Run(ctx context.Context, reader signal.Reader, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := reader.GetAll()
			if snapshot.Seq == 0 || snapshot.Seq == last {
				continue
			}
			last = snapshot.Seq

			if err := p.Publish(snapshot); err != nil {
				p.log.Warn().Err(err).Uint64("seq", snapshot.Seq).Msg("Failed to publish snapshot")
			}
		}
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
