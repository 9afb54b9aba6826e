// Package bus publishes pipeline lifecycle events over NATS so other
// services can react to synced calendar changes. The publisher is optional:
// with no NATS URL configured the pipeline runs without it.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects emitted by the processing pipeline.
const (
	SubjectEventCreated     = "mailcal.sync.event.created"
	SubjectEventUpdated     = "mailcal.sync.event.updated"
	SubjectEventCancelled   = "mailcal.sync.event.cancelled"
	SubjectSyncFailed       = "mailcal.sync.event.failed"
	SubjectMessageProcessed = "mailcal.message.processed"
	SubjectRegistered       = "mailcal.service.registered"
)

// SyncEventSignal is the payload for the per-event subjects.
type SyncEventSignal struct {
	IdentityKey     string `json:"identity_key"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	ThreadID        string `json:"thread_id"`
	Title           string `json:"title,omitempty"`
	Error           string `json:"error,omitempty"`
}

// MessageProcessedSignal is the payload for SubjectMessageProcessed. RunID
// correlates the signal with the processing run's log lines.
type MessageProcessedSignal struct {
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Cancelled int    `json:"cancelled"`
	Failed    int    `json:"failed"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Close() {
	c.conn.Close()
}
