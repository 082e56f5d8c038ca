/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/friendsincode/chronograph/internal/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "chronograph.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the slice of *nats.Conn the forwarder needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder relays local bus events to NATS subjects
// "<prefix>.<event_type>" so other services can follow slot and job changes.
type NATSForwarder struct {
	conn   *nats.Conn
	pub    publisher
	bus    *events.Bus
	prefix string
	nodeID string
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[events.EventType]events.Subscriber
	wg   sync.WaitGroup
}

// NewNATSForwarder connects to NATS. The returned forwarder does nothing until Start.
func NewNATSForwarder(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*NATSForwarder, error) {
	logger = logger.With().Str("component", "nats_forwarder").Logger()

	opts := []nats.Option{
		nats.Name("chronograph"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	f := newForwarder(conn, bus, cfg.SubjectPrefix, logger)
	f.conn = conn
	return f, nil
}

func newForwarder(pub publisher, bus *events.Bus, prefix string, logger zerolog.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSForwarder{
		pub:    pub,
		bus:    bus,
		prefix: prefix,
		nodeID: nodeID(),
		logger: logger,
		subs:   make(map[events.EventType]events.Subscriber),
	}
}

// Start subscribes to every event type and relays until ctx is cancelled.
func (f *NATSForwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, et := range events.AllEventTypes {
		if _, ok := f.subs[et]; ok {
			continue
		}
		sub := f.bus.Subscribe(et)
		f.subs[et] = sub

		f.wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer f.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					f.forward(et, payload)
				}
			}
		}(et, sub)
	}
}

func (f *NATSForwarder) forward(et events.EventType, payload events.Payload) {
	data, err := marshalMessage(et, payload, f.nodeID)
	if err != nil {
		f.logger.Warn().Err(err).Str("event", string(et)).Msg("encode event")
		return
	}
	subject := f.prefix + "." + string(et)
	if err := f.pub.Publish(subject, data); err != nil {
		f.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

// Close unsubscribes from the bus and drains the connection.
func (f *NATSForwarder) Close() error {
	f.mu.Lock()
	for et, sub := range f.subs {
		f.bus.Unsubscribe(et, sub)
		delete(f.subs, et)
	}
	f.mu.Unlock()
	f.wg.Wait()

	if f.conn != nil {
		return f.conn.Drain()
	}
	return nil
}

// message is the envelope published to NATS.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalMessage(et events.EventType, payload events.Payload, node string) ([]byte, error) {
	return json.Marshal(message{
		EventType: et,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    node,
		MessageID: uuid.NewString(),
	})
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "chronograph"
	}
	return host + "-" + uuid.NewString()[:8]
}
