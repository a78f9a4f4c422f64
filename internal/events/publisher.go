// Package events hands newly discovered messages to the downstream
// classifier pipeline over NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/mailsync"
)

const streamName = "MAIL_EVENTS"

// Publisher wraps NATS JetStream for publishing discovery events.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and acquires a JetStream context.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream ensures the MAIL_EVENTS stream exists with a duplicates
// window wide enough to absorb overlapping sync runs.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if info, err := p.js.StreamInfo(streamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"user.*.mail.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})

	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Publish publishes one payload with an idempotent message id.
func (p *Publisher) Publish(subject string, payload []byte, msgID string) error {
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// DiscoveryEvent is the record emitted per new, unprocessed message.
type DiscoveryEvent struct {
	EventID        string    `json:"event_id"`
	EmittedAt      int64     `json:"emitted_at"`
	UserID         string    `json:"user_id"`
	Purpose        string    `json:"purpose"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Cc             []string  `json:"cc"`
	Preview        string    `json:"preview"`
	HasAttachments bool      `json:"has_attachments"`
	MessageDate    time.Time `json:"message_date"`
}

// DiscoveryHandler returns a sync handler that publishes one discovery
// event per message. The NATS msg id is purpose|message_id, so a crash
// redelivery inside the duplicates window is dropped broker-side.
func DiscoveryHandler(pub *Publisher, userID string, purpose mailsync.Purpose) mailsync.Handler {
	subject := fmt.Sprintf("user.%s.mail.%s", userID, purpose)

	return func(_ context.Context, msg graph.Message) error {
		event := DiscoveryEvent{
			EventID:        uuid.NewString(),
			EmittedAt:      time.Now().Unix(),
			UserID:         userID,
			Purpose:        string(purpose),
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Subject:        msg.Subject,
			From:           msg.From,
			To:             msg.To,
			Cc:             msg.Cc,
			Preview:        msg.Preview,
			HasAttachments: msg.HasAttachments,
			MessageDate:    msg.Received,
		}

		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal discovery event: %w", err)
		}

		msgID := fmt.Sprintf("%s|%s", purpose, msg.ID)
		return pub.Publish(subject, payload, msgID)
	}
}
