package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	domain "github.com/quickprint/api/internal/domain"
	"github.com/quickprint/api/internal/drafts"
	"github.com/quickprint/api/internal/payments"
	"github.com/quickprint/api/internal/repositories"
	"github.com/quickprint/api/internal/repositories/memory"
)

const testSecret = "rzp_secret"

type stubGateway struct {
	mu        sync.Mutex
	seq       int
	requests  []payments.OrderRequest
	createErr error
	verifyErr error
}

func (g *stubGateway) CreateOrder(_ context.Context, _ payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payments.GatewayOrder{}, g.createErr
	}
	g.seq++
	g.requests = append(g.requests, req)
	return payments.GatewayOrder{
		ID:       fmt.Sprintf("order_%d", g.seq),
		Provider: payments.ProviderRazorpay,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (g *stubGateway) VerifyPayment(_ context.Context, _ payments.PaymentContext, v payments.Verification) error {
	if g.verifyErr != nil {
		return g.verifyErr
	}
	if !payments.VerifySignature(v.GatewayOrderID, v.PaymentID, v.Signature, testSecret) {
		return payments.ErrSignatureMismatch
	}
	return nil
}

func (g *stubGateway) ClientKey(payments.PaymentContext) string { return "rzp_test_key" }

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingInsertRepo struct {
	*memory.OrderRepository
	err error
}

func (r failingInsertRepo) Insert(context.Context, domain.Order) error { return r.err }

// lostAckRepo commits the first insert but reports it as failed, like a write whose deadline expired after the
// backend accepted it.
type lostAckRepo struct {
	*memory.OrderRepository
	err     error
	dropped atomic.Bool
}

func (r *lostAckRepo) Insert(ctx context.Context, order domain.Order) error {
	if err := r.OrderRepository.Insert(ctx, order); err != nil {
		return err
	}
	if r.dropped.CompareAndSwap(false, true) {
		return r.err
	}
	return nil
}

type orderFixture struct {
	svc     OrderService
	orders  *memory.OrderRepository
	drafts  *drafts.MemoryStore
	shop    *memory.ShopStatusRepository
	gateway *stubGateway
	events  *recordingPublisher
	now     time.Time
}

func newOrderFixture(t *testing.T, mutate ...func(*OrderServiceDeps)) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:  memory.NewOrderRepository(),
		shop:    memory.NewShopStatusRepository(),
		gateway: &stubGateway{},
		events:  &recordingPublisher{},
		now:     time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.drafts = drafts.NewMemoryStore(drafts.WithClock(func() time.Time { return f.now }))
	deps := OrderServiceDeps{
		Orders:   f.orders,
		Drafts:   f.drafts,
		Gateway:  f.gateway,
		Shop:     f.shop,
		Events:   f.events,
		Currency: "INR",
		Clock:    func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func sampleInitiate() InitiateOrderCommand {
	return InitiateOrderCommand{
		UserID:         "user-1",
		ServiceType:    "print",
		FileURL:        "https://files.example/doc.pdf",
		Quantity:       3,
		PageCount:      5,
		EstimatedPrice: 999,
		Instructions:   "<b>staple</b> please",
		Options:        domain.PrintOptions{ColorMode: "bw", Sides: "single"},
	}
}

func paidCallback(res InitiateResult, paymentID string) VerifyPaymentCommand {
	return VerifyPaymentCommand{
		DraftID:        res.DraftID,
		GatewayOrderID: res.GatewayOrder.ID,
		PaymentID:      paymentID,
		Signature:      payments.ExpectedSignature(res.GatewayOrder.ID, paymentID, testSecret),
	}
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	res, err := f.svc.InitiateOrder(ctx, sampleInitiate())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.GatewayOrder.Amount != 3000 || res.GatewayOrder.Currency != "INR" {
		t.Fatalf("expected 3000 INR minor units, got %+v", res.GatewayOrder)
	}
	if res.ClientKey != "rzp_test_key" || res.Provider != payments.ProviderRazorpay {
		t.Fatalf("unexpected client key/provider %+v", res)
	}
	if !res.ExpiresAt.Equal(f.now.Add(drafts.DefaultTTL)) {
		t.Fatalf("expected draft to expire after default ttl, got %s", res.ExpiresAt)
	}
	req := f.gateway.requests[0]
	if req.Notes["tempOrderId"] != res.DraftID || req.Receipt != fmt.Sprintf("receipt_%d", f.now.UnixMilli()) {
		t.Fatalf("unexpected gateway request %+v", req)
	}

	status, err := f.svc.PaymentStatus(ctx, res.DraftID)
	if err != nil || !status.Exists || status.Status != domain.DraftStatusPaymentPending {
		t.Fatalf("expected pending draft, got %+v %v", status, err)
	}

	confirmed, err := f.svc.VerifyAndConfirm(ctx, paidCallback(res, "pay_1"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	order := confirmed.Order
	if order.Status != domain.OrderStatusQueued || order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected order state %+v", order)
	}
	if order.Details.TotalPages != 15 || order.Details.EstimatedPrice != 30 {
		t.Fatalf("expected recomputed totals, got %+v", order.Details)
	}
	if order.Details.Instructions != "staple please" {
		t.Fatalf("expected sanitised instructions, got %q", order.Details.Instructions)
	}
	if order.Payment.GatewayPaymentID != "pay_1" || order.DraftID != res.DraftID {
		t.Fatalf("unexpected payment ref %+v", order)
	}
	if f.drafts.Len() != 0 {
		t.Fatalf("expected draft to be consumed")
	}
	if status, _ := f.svc.PaymentStatus(ctx, res.DraftID); status.Exists {
		t.Fatalf("expected draft to be gone")
	}

	queue, err := f.svc.ListQueue(ctx)
	if err != nil || len(queue) != 1 || queue[0].ID != order.ID {
		t.Fatalf("unexpected queue %+v %v", queue, err)
	}
	mine, err := f.svc.ListUserOrders(ctx, "user-1")
	if err != nil || len(mine) != 1 {
		t.Fatalf("unexpected user orders %+v %v", mine, err)
	}

	if _, err := f.svc.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, Status: "In Progress"}); err != nil {
		t.Fatalf("advance to in progress: %v", err)
	}
	done, err := f.svc.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: order.ID, Status: "Completed", ActorID: "admin"})
	if err != nil || done.Status != domain.OrderStatusCompleted {
		t.Fatalf("advance to completed: %+v %v", done, err)
	}
	if queue, _ := f.svc.ListQueue(ctx); len(queue) != 0 {
		t.Fatalf("expected completed order to leave the queue, got %d", len(queue))
	}

	want := []string{orderEventConfirmed, orderEventStatusChanged, orderEventStatusChanged}
	if got := f.events.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestVerifyAndConfirmConcurrentCallbacksPersistOnce(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	res, err := f.svc.InitiateOrder(ctx, sampleInitiate())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	cmd := paidCallback(res, "pay_race")

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		missing   atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.VerifyAndConfirm(ctx, cmd)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDraftNotFoundOrExpired):
				missing.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || missing.Load() != callers-1 {
		t.Fatalf("expected exactly one confirmation, got %d ok / %d missing", successes.Load(), missing.Load())
	}
	queue, _ := f.orders.FindQueue(ctx)
	if len(queue) != 1 {
		t.Fatalf("expected one persisted order, got %d", len(queue))
	}
}

func TestVerifyAndConfirmRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature keeps draft", func(t *testing.T) {
		f := newOrderFixture(t)
		res, _ := f.svc.InitiateOrder(ctx, sampleInitiate())
		cmd := paidCallback(res, "pay_1")
		cmd.Signature = "deadbeef"
		if _, err := f.svc.VerifyAndConfirm(ctx, cmd); !errors.Is(err, ErrPaymentVerificationFailed) {
			t.Fatalf("expected verification failure, got %v", err)
		}
		if f.drafts.Len() != 1 {
			t.Fatalf("expected draft to survive a forged callback")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newOrderFixture(t)
		if _, err := f.svc.VerifyAndConfirm(ctx, VerifyPaymentCommand{DraftID: "temp_x"}); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("unknown draft", func(t *testing.T) {
		f := newOrderFixture(t)
		cmd := VerifyPaymentCommand{
			DraftID:        "temp_missing",
			GatewayOrderID: "order_9",
			PaymentID:      "pay_9",
			Signature:      payments.ExpectedSignature("order_9", "pay_9", testSecret),
		}
		if _, err := f.svc.VerifyAndConfirm(ctx, cmd); !errors.Is(err, ErrDraftNotFoundOrExpired) {
			t.Fatalf("expected draft not found, got %v", err)
		}
	})

	t.Run("expired draft", func(t *testing.T) {
		f := newOrderFixture(t)
		res, _ := f.svc.InitiateOrder(ctx, sampleInitiate())
		f.now = f.now.Add(31 * time.Minute)
		if _, err := f.svc.VerifyAndConfirm(ctx, paidCallback(res, "pay_1")); !errors.Is(err, ErrDraftNotFoundOrExpired) {
			t.Fatalf("expected expiry, got %v", err)
		}
	})

	t.Run("payment for another gateway order", func(t *testing.T) {
		f := newOrderFixture(t)
		first, _ := f.svc.InitiateOrder(ctx, sampleInitiate())
		second, _ := f.svc.InitiateOrder(ctx, sampleInitiate())
		cmd := paidCallback(second, "pay_2")
		cmd.DraftID = first.DraftID
		if _, err := f.svc.VerifyAndConfirm(ctx, cmd); !errors.Is(err, ErrPaymentVerificationFailed) {
			t.Fatalf("expected mismatch rejection, got %v", err)
		}
		if f.drafts.Len() != 2 {
			t.Fatalf("expected both drafts to remain")
		}
	})

	t.Run("gateway outage", func(t *testing.T) {
		f := newOrderFixture(t)
		res, _ := f.svc.InitiateOrder(ctx, sampleInitiate())
		f.gateway.verifyErr = fmt.Errorf("%w: timeout", payments.ErrGatewayUnavailable)
		if _, err := f.svc.VerifyAndConfirm(ctx, paidCallback(res, "pay_1")); !errors.Is(err, ErrGatewayUnavailable) {
			t.Fatalf("expected gateway unavailable, got %v", err)
		}
	})
}

func TestVerifyAndConfirmRestoresDraftWhenInsertFails(t *testing.T) {
	unavailable := &repositories.Error{Op: "orders.insert", Err: errors.New("backend down"), Unavailable: true}
	f := newOrderFixture(t, func(d *OrderServiceDeps) {
		d.Orders = failingInsertRepo{OrderRepository: memory.NewOrderRepository(), err: unavailable}
	})
	ctx := context.Background()
	res, err := f.svc.InitiateOrder(ctx, sampleInitiate())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.VerifyAndConfirm(ctx, paidCallback(res, "pay_1")); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := f.drafts.Get(ctx, res.DraftID); err != nil {
		t.Fatalf("expected draft restored for retry: %v", err)
	}
}

func TestVerifyAndConfirmRetryAfterLostInsertAckCreatesOneOrder(t *testing.T) {
	repo := &lostAckRepo{
		OrderRepository: memory.NewOrderRepository(),
		err:             &repositories.Error{Op: "orders.insert", Err: context.DeadlineExceeded, Unavailable: true},
	}
	f := newOrderFixture(t, func(d *OrderServiceDeps) { d.Orders = repo })
	ctx := context.Background()

	res, err := f.svc.InitiateOrder(ctx, sampleInitiate())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	callback := paidCallback(res, "pay_1")

	if _, err := f.svc.VerifyAndConfirm(ctx, callback); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable on first attempt, got %v", err)
	}
	confirmed, err := f.svc.VerifyAndConfirm(ctx, callback)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	orders, err := repo.FindByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("find by user: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected exactly one order for the draft, got %d", len(orders))
	}
	if confirmed.OrderID != orders[0].ID || orders[0].DraftID != res.DraftID {
		t.Fatalf("expected retry to return stored order %s, got %s", orders[0].ID, confirmed.OrderID)
	}
	if f.drafts.Len() != 0 {
		t.Fatalf("expected draft consumed after retry")
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventConfirmed {
		t.Fatalf("expected one confirmed event, got %v", got)
	}

	if _, err := f.svc.VerifyAndConfirm(ctx, callback); !errors.Is(err, ErrDraftNotFoundOrExpired) {
		t.Fatalf("expected draft not found on third call, got %v", err)
	}
}

func TestVerifyAndConfirmInsertConflictFromOtherPayment(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	res, err := f.svc.InitiateOrder(ctx, sampleInitiate())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.orders.Insert(ctx, domain.Order{
		ID:      orderIDForDraft(res.DraftID),
		DraftID: res.DraftID,
		Details: domain.OrderDetails{UserID: "user-1"},
		Payment: domain.PaymentRef{GatewayPaymentID: "pay_other"},
		Status:  domain.OrderStatusQueued,
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	_, err = f.svc.VerifyAndConfirm(ctx, paidCallback(res, "pay_1"))
	if !errors.Is(err, ErrDraftNotFoundOrExpired) {
		t.Fatalf("expected draft not found for conflicting insert, got %v", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("insert conflict must not surface as an invalid transition")
	}
}

func TestOrderIDForDraft(t *testing.T) {
	if got := orderIDForDraft("temp_01HZX"); got != "ord_01HZX" {
		t.Fatalf("unexpected order id %q", got)
	}
}

func TestInitiateOrderTruncatesInstructionsOnCharacters(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	cmd := sampleInitiate()
	cmd.Instructions = "a" + strings.Repeat("é", 1200)

	res, err := f.svc.InitiateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	draft, err := f.drafts.Get(ctx, res.DraftID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	got := draft.Details.Instructions
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid utf-8 instructions")
	}
	if n := utf8.RuneCountInString(got); n != maxInstructionsLength {
		t.Fatalf("expected %d characters, got %d", maxInstructionsLength, n)
	}
	if !strings.HasPrefix(got, "aé") {
		t.Fatalf("unexpected prefix %q", got[:8])
	}
}

func TestInitiateOrderFailures(t *testing.T) {
	ctx := context.Background()

	f := newOrderFixture(t)
	cmd := sampleInitiate()
	cmd.UserID = ""
	cmd.EstimatedPrice = 0
	if _, err := f.svc.InitiateOrder(ctx, cmd); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	f.gateway.createErr = errors.New("connection refused")
	if _, err := f.svc.InitiateOrder(ctx, sampleInitiate()); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
	if f.drafts.Len() != 0 {
		t.Fatalf("expected no draft after gateway failure, got %d", f.drafts.Len())
	}

	f.gateway.createErr = fmt.Errorf("%w: paypal", payments.ErrUnsupportedProvider)
	if _, err := f.svc.InitiateOrder(ctx, sampleInitiate()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unsupported provider as validation error, got %v", err)
	}

	f.gateway.createErr = nil
	if err := f.shop.Set(ctx, domain.ShopStatus{Open: false}); err != nil {
		t.Fatalf("close shop: %v", err)
	}
	if _, err := f.svc.InitiateOrder(ctx, sampleInitiate()); !errors.Is(err, ErrShopClosed) {
		t.Fatalf("expected shop closed, got %v", err)
	}
}

func TestInitiateOrderKeepsClientPriceWithoutPageCount(t *testing.T) {
	f := newOrderFixture(t)
	cmd := sampleInitiate()
	cmd.PageCount = 0
	cmd.EstimatedPrice = 12.5
	res, err := f.svc.InitiateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.GatewayOrder.Amount != 1250 {
		t.Fatalf("expected client price to be charged, got %d", res.GatewayOrder.Amount)
	}
}

func TestAdvanceStatusTransitions(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T, status domain.OrderStatus) (*orderFixture, string) {
		f := newOrderFixture(t)
		id := "ord_" + string(status)
		if err := f.orders.Insert(ctx, domain.Order{ID: id, Status: status, PaymentStatus: domain.PaymentStatusCompleted, CreatedAt: f.now}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return f, id
	}

	cases := []struct {
		name    string
		from    domain.OrderStatus
		to      string
		wantErr error
	}{
		{"queued to in progress", domain.OrderStatusQueued, "In Progress", nil},
		{"queued straight to completed", domain.OrderStatusQueued, "Completed", nil},
		{"in progress to completed", domain.OrderStatusInProgress, "Completed", nil},
		{"backwards", domain.OrderStatusInProgress, "Queued", ErrInvalidTransition},
		{"completed is terminal", domain.OrderStatusCompleted, "In Progress", ErrInvalidTransition},
		{"same status is a no-op", domain.OrderStatusCompleted, "Completed", nil},
		{"unknown status", domain.OrderStatusQueued, "Shipped", ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, id := seed(t, tc.from)
			order, err := f.svc.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: id, Status: tc.to})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				stored, _ := f.orders.FindByID(ctx, id)
				if stored.Status != tc.from {
					t.Fatalf("expected status unchanged, got %s", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("advance: %v", err)
			}
			if string(order.Status) != tc.to {
				t.Fatalf("expected %s, got %s", tc.to, order.Status)
			}
		})
	}

	f := newOrderFixture(t)
	if _, err := f.svc.AdvanceStatus(ctx, AdvanceStatusCommand{OrderID: "ord_missing", Status: "Completed"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
