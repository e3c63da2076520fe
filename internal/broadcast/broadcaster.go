package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

// Publisher abstracts the Pub/Sub publisher so broadcasts are testable.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult
}

// PublishResult resolves to the server-assigned message id.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

// ParentVerifier re-checks the parent-student link at delivery time.
type ParentVerifier interface {
	IsParentOf(ctx context.Context, parentID, studentID uuid.UUID) (bool, error)
}

// Broadcaster pushes invoice snapshots onto the event topic, addressed to
// per-user channels. The tutor channel always receives the event; the
// parent channel only after the parent-student link has been re-verified,
// so a re-assigned student never leaks billing data to the old parent.
type Broadcaster struct {
	publisher Publisher
	directory ParentVerifier
	logger    *logger.Logger
	timeout   time.Duration
}

// BroadcasterParams collects the broadcaster dependencies.
type BroadcasterParams struct {
	Publisher Publisher
	Directory ParentVerifier
	Logger    *logger.Logger
	// PublishTimeout bounds each publish call; defaults to 10s.
	PublishTimeout time.Duration
}

func NewBroadcaster(params BroadcasterParams) (*Broadcaster, error) {
	if params.Publisher == nil {
		return nil, errors.New("publisher required")
	}
	if params.Directory == nil {
		return nil, errors.New("directory required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Broadcaster{
		publisher: params.Publisher,
		directory: params.Directory,
		logger:    params.Logger,
		timeout:   timeout,
	}, nil
}

type invoiceSnapshot struct {
	ID          uuid.UUID           `json:"id"`
	TutorID     uuid.UUID           `json:"tutor_id"`
	StudentID   uuid.UUID           `json:"student_id"`
	ParentID    uuid.UUID           `json:"parent_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Description string              `json:"description"`
	Status      enums.InvoiceStatus `json:"status"`
	DueDate     string              `json:"due_date"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	ViewedAt    *time.Time          `json:"viewed_at,omitempty"`
	PaidAt      *time.Time          `json:"paid_at,omitempty"`
}

type eventEnvelope struct {
	Event   enums.NotificationEvent `json:"event"`
	Channel string                  `json:"channel"`
	Invoice invoiceSnapshot         `json:"invoice"`
}

// Broadcast publishes the event to the tutor channel and, when the link
// still holds, to the parent channel.
func (b *Broadcaster) Broadcast(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error {
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice required")
	}
	if !event.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification event")
	}

	if err := b.publishTo(ctx, userChannel(invoice.TutorID), invoice, event); err != nil {
		return err
	}

	linked, err := b.directory.IsParentOf(ctx, invoice.ParentID, invoice.StudentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify parent link")
	}
	if !linked {
		b.logger.Warn(ctx, fmt.Sprintf("parent %s no longer linked to student %s, parent broadcast suppressed", invoice.ParentID, invoice.StudentID))
		return nil
	}
	return b.publishTo(ctx, userChannel(invoice.ParentID), invoice, event)
}

func (b *Broadcaster) publishTo(ctx context.Context, channel string, invoice *models.Invoice, event enums.NotificationEvent) error {
	envelope := eventEnvelope{
		Event:   event,
		Channel: channel,
		Invoice: invoiceSnapshot{
			ID:          invoice.ID,
			TutorID:     invoice.TutorID,
			StudentID:   invoice.StudentID,
			ParentID:    invoice.ParentID,
			Amount:      invoice.Amount,
			Description: invoice.Description,
			Status:      invoice.Status,
			DueDate:     invoice.DueDate.Format("2006-01-02"),
			SentAt:      invoice.SentAt,
			ViewedAt:    invoice.ViewedAt,
			PaidAt:      invoice.PaidAt,
		},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode broadcast payload")
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event":      event.String(),
			"channel":    channel,
			"invoice_id": invoice.ID.String(),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	result := b.publisher.Publish(publishCtx, msg)
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "publisher returned no result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish invoice event")
	}
	return nil
}

func userChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// WrapPublisher adapts a Pub/Sub publisher handle to the Publisher port.
func WrapPublisher(p *gcppubsub.Publisher) Publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{publisher: p}
}

type gcpPublisher struct {
	publisher *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, msg)
}
