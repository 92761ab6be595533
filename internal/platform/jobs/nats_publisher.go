package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/quickprint/api/internal/services"
)

type natsConn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSOrderPublisher publishes order events on <subject>.<event type>.
type NATSOrderPublisher struct {
	conn    natsConn
	subject string
}

var _ services.OrderEventPublisher = (*NATSOrderPublisher)(nil)

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
}

// NewNATSOrderPublisher wraps an established connection.
func NewNATSOrderPublisher(conn *nats.Conn, subject string) (*NATSOrderPublisher, error) {
	if conn == nil {
		return nil, errors.New("nats order publisher: connection is required")
	}
	return newNATSOrderPublisher(conn, subject)
}

func newNATSOrderPublisher(conn natsConn, subject string) (*NATSOrderPublisher, error) {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		return nil, errors.New("nats order publisher: subject is required")
	}
	return &NATSOrderPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(newPayload(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := nats.NewMsg(p.subjectFor(event.Type))
	msg.Data = data
	for k, v := range eventAttributes(event) {
		msg.Header.Set(k, v)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSOrderPublisher) Close() error {
	return p.conn.Drain()
}

func (p *NATSOrderPublisher) subjectFor(eventType string) string {
	suffix := strings.TrimPrefix(strings.TrimSpace(eventType), "order.")
	if suffix == "" {
		return p.subject
	}
	return p.subject + "." + suffix
}
