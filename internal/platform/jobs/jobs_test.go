package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/nats-io/nats.go"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quickprint/api/internal/services"
)

func sampleEvent() services.OrderEvent {
	return services.OrderEvent{
		Type:           "order.status_changed",
		OrderID:        "ord_1",
		UserID:         "user-1",
		PreviousStatus: "Queued",
		CurrentStatus:  "In Progress",
		OccurredAt:     time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
		Metadata:       map[string]any{"actor": "admin"},
	}
}

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}
	defer publisher.Stop()

	if err := publisher.PublishOrderEvent(ctx, sampleEvent()); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload orderEventPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.CurrentStatus != "In Progress" || payload.PreviousStatus != "Queued" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.status_changed" {
		t.Fatalf("expected event type attribute, got %q", attr)
	}
}

type stubNATSConn struct {
	published []*nats.Msg
	flushErr  error
	drained   bool
}

func (c *stubNATSConn) PublishMsg(msg *nats.Msg) error {
	c.published = append(c.published, msg)
	return nil
}

func (c *stubNATSConn) FlushWithContext(context.Context) error { return c.flushErr }

func (c *stubNATSConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSOrderPublisher(t *testing.T) {
	conn := &stubNATSConn{}
	publisher, err := newNATSOrderPublisher(conn, "quickprint.orders.")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := publisher.PublishOrderEvent(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(conn.published) != 1 {
		t.Fatalf("expected one message, got %d", len(conn.published))
	}
	msg := conn.published[0]
	if msg.Subject != "quickprint.orders.status_changed" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get("orderId") != "ord_1" {
		t.Fatalf("expected order id header, got %v", msg.Header)
	}

	conn.flushErr = errors.New("no responders")
	if err := publisher.PublishOrderEvent(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected flush error")
	}
	if err := publisher.Close(); err != nil || !conn.drained {
		t.Fatalf("expected drain on close")
	}

	if _, err := newNATSOrderPublisher(conn, " "); err == nil {
		t.Fatalf("expected subject validation")
	}
}

type recordingPublisher struct {
	count int
	err   error
}

func (p *recordingPublisher) PublishOrderEvent(context.Context, services.OrderEvent) error {
	p.count++
	return p.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	failing := errors.New("broker down")
	a := &recordingPublisher{}
	b := &recordingPublisher{err: failing}
	err := Fanout{a, nil, b}.PublishOrderEvent(context.Background(), sampleEvent())
	if !errors.Is(err, failing) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.count != 1 || b.count != 1 {
		t.Fatalf("expected both publishers called, got %d %d", a.count, b.count)
	}
}
