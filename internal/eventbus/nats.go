/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus across instances.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
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
		SubjectPrefix: "updatehelper.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus publishes events locally and on NATS, and replays events published
// by other instances to local subscribers.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to cfg.URL. Without a URL, or when the server cannot
// be reached, the bus only delivers in-process.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	nb := &NATSBus{
		local:  events.NewBus(),
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		nodeID: generateNodeID(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}

	if cfg.URL == "" {
		nb.logger.Info().Msg("NATS not configured, using in-process event bus")
		return nb, nil
	}

	opts := []nats.Option{
		nats.Name("updatehelper-" + nb.nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				nb.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-process event bus")
		return nb, nil
	}

	sub, err := conn.Subscribe(nb.prefix+".>", func(msg *nats.Msg) {
		nb.deliver(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s.>: %w", nb.prefix, err)
	}

	nb.conn = conn
	nb.sub = sub
	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nb.nodeID).Msg("NATS event bus connected")
	return nb, nil
}

// Connected reports whether events leave this process.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers payload to local subscribers and forwards it to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}
	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(nb.subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to NATS")
	}
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if nb.sub != nil {
		_ = nb.sub.Unsubscribe()
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

func (nb *NATSBus) subject(eventType events.EventType) string {
	return nb.prefix + "." + string(eventType)
}

// deliver replays a remote message locally. Messages this node published
// were already delivered by Publish.
func (nb *NATSBus) deliver(data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("dropping malformed NATS event")
		return
	}
	if msg.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(msg.EventType, msg.Payload)
}

type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event: missing event_type")
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
