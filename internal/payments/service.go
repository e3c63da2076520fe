package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// invoicePayer is the slice of the invoice service the webhook needs.
type invoicePayer interface {
	ProcessPayment(ctx context.Context, invoiceID uuid.UUID, payment *models.Payment) (*models.Invoice, error)
}

// ServiceParams collects the webhook service dependencies.
type ServiceParams struct {
	Repo     Repository
	Invoices invoicePayer
	Guard    *IdempotencyGuard
	Logger   *logger.Logger
}

// Service consumes completed payment events from the gateway. The core never
// initiates gateway calls; payment objects arrive here fully settled.
type Service struct {
	repo     Repository
	invoices invoicePayer
	guard    *IdempotencyGuard
	logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice payer required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:     params.Repo,
		invoices: params.Invoices,
		guard:    params.Guard,
		logger:   params.Logger,
	}, nil
}

// HandleEvent processes a verified Stripe event. Successful payment intents
// carrying an invoice_id in metadata settle the referenced invoice; every
// other event type is acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return nil
	}

	seen, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check")
	}
	if seen {
		s.logger.Info(ctx, fmt.Sprintf("duplicate stripe event %s ignored", event.ID))
		return nil
	}

	if err := s.handlePaymentIntentSucceeded(ctx, event); err != nil {
		// Release the mark so Stripe's retry can reprocess the event.
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logger.Warn(ctx, fmt.Sprintf("releasing idempotency mark for %s failed: %v", event.ID, delErr))
		}
		return err
	}
	return nil
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	invoiceIDRaw := intent.Metadata["invoice_id"]
	if invoiceIDRaw == "" {
		s.logger.Info(ctx, fmt.Sprintf("payment intent %s has no invoice metadata, skipping", intent.ID))
		return nil
	}
	invoiceID, err := uuid.Parse(invoiceIDRaw)
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice id in payment metadata")
	}

	payment, err := s.recordPayment(ctx, &intent, event.Created)
	if err != nil {
		return err
	}

	if _, err := s.invoices.ProcessPayment(ctx, invoiceID, payment); err != nil {
		return err
	}
	s.logger.Info(ctx, fmt.Sprintf("payment %s settled invoice %s", payment.GatewayPaymentID, invoiceID))
	return nil
}

// recordPayment upserts the gateway payment row. Re-delivered events reuse
// the stored row instead of failing on the unique gateway id.
func (s *Service) recordPayment(ctx context.Context, intent *stripe.PaymentIntent, createdUnix int64) (*models.Payment, error) {
	existing, err := s.repo.FindByGatewayID(ctx, intent.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
	}
	if existing != nil {
		return existing, nil
	}

	paidAt := time.Unix(createdUnix, 0).UTC()
	currency := string(intent.Currency)
	if currency == "" {
		currency = "usd"
	}
	payment := &models.Payment{
		ID:               uuid.New(),
		GatewayPaymentID: intent.ID,
		Amount:           decimal.NewFromInt(intent.Amount).Shift(-2),
		Currency:         currency,
		Status:           enums.PaymentStatusSucceeded,
		PaidAt:           &paidAt,
	}
	if _, err := s.repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment")
	}
	return payment, nil
}
