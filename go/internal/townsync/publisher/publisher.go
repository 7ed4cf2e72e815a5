// Package publisher republishes synchronized state to NATS for
// out-of-process observers.
package publisher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/state"
)

// Config holds NATS settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default publisher configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "townsync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Connect dials NATS with reconnect logging.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("townsync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher emits snapshots on <prefix>.state and connection status on
// <prefix>.status.
type Publisher struct {
	conn   Conn
	prefix string

	mu          sync.Mutex
	lastVersion uint64
	lastStatus  *models.ConnectionStatus
}

// New creates a publisher on conn.
func New(conn Conn, subjectPrefix string) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = DefaultConfig().SubjectPrefix
	}
	return &Publisher{conn: conn, prefix: subjectPrefix}
}

// StateSubject is the subject snapshots are published on.
func (p *Publisher) StateSubject() string { return p.prefix + ".state" }

// StatusSubject is the subject connection status is published on.
func (p *Publisher) StatusSubject() string { return p.prefix + ".status" }

// PublishSnapshot publishes snap unless a snapshot with the same or a later
// version has already gone out. Store listeners may run concurrently, so
// notifications can arrive out of order.
func (p *Publisher) PublishSnapshot(snap state.Snapshot) error {
	p.mu.Lock()
	if snap.Version <= p.lastVersion {
		p.mu.Unlock()
		return nil
	}
	p.lastVersion = snap.Version
	p.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	version := strconv.FormatUint(snap.Version, 10)
	err = p.conn.PublishMsg(&nats.Msg{
		Subject: p.StateSubject(),
		Data:    data,
		Header: nats.Header{
			"State-Version": []string{version},
		},
	})
	if err != nil {
		return fmt.Errorf("publish snapshot %s: %w", version, err)
	}
	return nil
}

// PublishStatus publishes a connection status when it differs from the last
// one published.
func (p *Publisher) PublishStatus(status models.ConnectionStatus) error {
	p.mu.Lock()
	if p.lastStatus != nil && sameStatus(*p.lastStatus, status) {
		p.mu.Unlock()
		return nil
	}
	s := status
	p.lastStatus = &s
	p.mu.Unlock()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := p.conn.PublishMsg(&nats.Msg{Subject: p.StatusSubject(), Data: data}); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// SnapshotListener adapts the publisher to a store subscription. Failures are
// logged; observers catch up on the next snapshot.
func (p *Publisher) SnapshotListener() state.Listener {
	return func(snap state.Snapshot) {
		if err := p.PublishSnapshot(snap); err != nil {
			log.Warn().Err(err).Uint64("version", snap.Version).Msg("failed to publish snapshot")
		}
	}
}

// StatusListener adapts the publisher to connection status changes.
func (p *Publisher) StatusListener() func(models.ConnectionStatus) {
	return func(status models.ConnectionStatus) {
		if err := p.PublishStatus(status); err != nil {
			log.Warn().Err(err).Str("status", string(status.State)).Msg("failed to publish connection status")
		}
	}
}

func sameStatus(a, b models.ConnectionStatus) bool {
	if a.State != b.State || a.ReconnectAttempts != b.ReconnectAttempts || a.Connected != b.Connected {
		return false
	}
	if (a.NextReconnectInSeconds == nil) != (b.NextReconnectInSeconds == nil) {
		return false
	}
	return a.NextReconnectInSeconds == nil || *a.NextReconnectInSeconds == *b.NextReconnectInSeconds
}
