package payments

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

type fakeIdempotencyStore struct {
	keys map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]string{}}
}

func (f *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "tb:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

type fakePaymentsRepo struct {
	byGatewayID map[string]*models.Payment
	created     int
}

func newFakePaymentsRepo() *fakePaymentsRepo {
	return &fakePaymentsRepo{byGatewayID: map[string]*models.Payment{}}
}

func (f *fakePaymentsRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePaymentsRepo) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	f.byGatewayID[payment.GatewayPaymentID] = payment
	f.created++
	return payment, nil
}

func (f *fakePaymentsRepo) FindByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	return f.byGatewayID[gatewayPaymentID], nil
}

type fakeInvoicePayer struct {
	calls []uuid.UUID
	err   error
}

func (f *fakeInvoicePayer) ProcessPayment(ctx context.Context, invoiceID uuid.UUID, payment *models.Payment) (*models.Invoice, error) {
	f.calls = append(f.calls, invoiceID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Invoice{ID: invoiceID}, nil
}

func newWebhookTestService(t *testing.T) (*Service, *fakePaymentsRepo, *fakeInvoicePayer, *fakeIdempotencyStore) {
	t.Helper()
	store := newFakeIdempotencyStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	repo := newFakePaymentsRepo()
	payer := &fakeInvoicePayer{}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Invoices: payer,
		Guard:    guard,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo, payer, store
}

func paymentIntentEvent(t *testing.T, eventID, intentID string, invoiceID uuid.UUID, amountCents int64) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":       intentID,
		"amount":   amountCents,
		"currency": "usd",
		"metadata": map[string]string{"invoice_id": invoiceID.String()},
	})
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		ID:      eventID,
		Type:    stripe.EventTypePaymentIntentSucceeded,
		Created: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventSettlesInvoice(t *testing.T) {
	svc, repo, payer, _ := newWebhookTestService(t)
	invoiceID := uuid.New()

	event := paymentIntentEvent(t, "evt_1", "pi_1", invoiceID, 500000)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(payer.calls) != 1 || payer.calls[0] != invoiceID {
		t.Fatalf("expected one process payment call for %s, got %v", invoiceID, payer.calls)
	}
	payment := repo.byGatewayID["pi_1"]
	if payment == nil {
		t.Fatalf("expected stored payment")
	}
	if payment.Amount.String() != "5000" {
		t.Fatalf("expected amount 5000, got %s", payment.Amount)
	}
	if payment.PaidAt == nil {
		t.Fatalf("expected paid_at set")
	}
}

func TestHandleEventDeduplicates(t *testing.T) {
	svc, repo, payer, _ := newWebhookTestService(t)
	invoiceID := uuid.New()

	event := paymentIntentEvent(t, "evt_dup", "pi_dup", invoiceID, 10000)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(payer.calls) != 1 {
		t.Fatalf("duplicate delivery must not reprocess, got %d calls", len(payer.calls))
	}
	if repo.created != 1 {
		t.Fatalf("expected one stored payment, got %d", repo.created)
	}
}

func TestHandleEventReleasesMarkOnFailure(t *testing.T) {
	svc, _, payer, store := newWebhookTestService(t)
	payer.err = pkgerrors.New(pkgerrors.CodeInvalidStatus, "invoice cancelled")
	invoiceID := uuid.New()

	event := paymentIntentEvent(t, "evt_fail", "pi_fail", invoiceID, 10000)
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected processing error")
	}
	if len(store.keys) != 0 {
		t.Fatalf("expected idempotency mark released, got %v", store.keys)
	}

	// Retry succeeds once the downstream recovers.
	payer.err = nil
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(payer.calls) != 2 {
		t.Fatalf("expected retry to reprocess, got %d calls", len(payer.calls))
	}
}

func TestHandleEventIgnoresOtherTypes(t *testing.T) {
	svc, repo, payer, _ := newWebhookTestService(t)

	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventTypeCustomerCreated,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(payer.calls) != 0 || repo.created != 0 {
		t.Fatalf("non-payment events must be ignored")
	}
}

func TestHandleEventSkipsIntentsWithoutInvoice(t *testing.T) {
	svc, repo, payer, _ := newWebhookTestService(t)

	raw, _ := json.Marshal(map[string]any{"id": "pi_na", "amount": 100, "currency": "usd"})
	event := &stripe.Event{
		ID:      "evt_na",
		Type:    stripe.EventTypePaymentIntentSucceeded,
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(payer.calls) != 0 || repo.created != 0 {
		t.Fatalf("intents without invoice metadata must be skipped")
	}
}
