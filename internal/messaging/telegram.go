package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/telegram"
)

// ChatClient is the slice of the Telegram client the messenger uses.
type ChatClient interface {
	SendMessage(ctx context.Context, chatID, text string) (*telegram.Message, error)
	EditMessage(ctx context.Context, chatID string, messageID int64, text string) (*telegram.Message, error)
}

// UserDirectory resolves the chat recipient for an invoice.
type UserDirectory interface {
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// TelegramMessenger delivers invoice updates to the parent's Telegram chat.
// First delivery sends a new message; later lifecycle events edit it in
// place using the stored message ref. Parents without a linked chat are
// silently skipped.
type TelegramMessenger struct {
	chat   ChatClient
	users  UserDirectory
	logger *logger.Logger
}

// TelegramMessengerParams collects the messenger dependencies.
type TelegramMessengerParams struct {
	Chat   ChatClient
	Users  UserDirectory
	Logger *logger.Logger
}

func NewTelegramMessenger(params TelegramMessengerParams) (*TelegramMessenger, error) {
	if params.Chat == nil {
		return nil, errors.New("chat client required")
	}
	if params.Users == nil {
		return nil, errors.New("user directory required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &TelegramMessenger{
		chat:   params.Chat,
		users:  params.Users,
		logger: params.Logger,
	}, nil
}

// DeliverInvoiceMessage sends or edits the chat message for the invoice and
// returns the ref to persist on it. A nil ref with nil error means the
// parent has no linked chat.
func (m *TelegramMessenger) DeliverInvoiceMessage(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) (*string, error) {
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice required")
	}

	parent, err := m.users.FindUser(ctx, invoice.ParentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve parent")
	}
	if parent == nil || parent.TelegramChatID == nil || strings.TrimSpace(*parent.TelegramChatID) == "" {
		m.logger.Info(ctx, fmt.Sprintf("parent %s has no telegram chat, message skipped", invoice.ParentID))
		return nil, nil
	}
	chatID := strings.TrimSpace(*parent.TelegramChatID)
	text := messageText(invoice, event)

	if invoice.ExternalMessageRef != nil {
		refChatID, messageID, ok := parseRef(*invoice.ExternalMessageRef)
		if ok {
			msg, err := m.chat.EditMessage(ctx, refChatID, messageID, text)
			if err == nil {
				ref := msg.Ref()
				return &ref, nil
			}
			// The original message may have been deleted in the chat;
			// fall back to a fresh send.
			m.logger.Warn(ctx, fmt.Sprintf("editing message %s failed, sending new: %v", *invoice.ExternalMessageRef, err))
		}
	}

	msg, err := m.chat.SendMessage(ctx, chatID, text)
	if err != nil {
		return nil, err
	}
	ref := msg.Ref()
	return &ref, nil
}

func parseRef(ref string) (string, int64, bool) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	messageID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], messageID, true
}

func messageText(invoice *models.Invoice, event enums.NotificationEvent) string {
	amount := invoice.Amount.StringFixed(2)
	due := invoice.DueDate.Format("2006-01-02")
	switch event {
	case enums.NotificationEventInvoiceSent:
		return fmt.Sprintf("<b>New invoice</b>\nAmount: %s\nDue: %s\n%s", amount, due, invoice.Description)
	case enums.NotificationEventInvoiceViewed:
		return fmt.Sprintf("<b>Invoice viewed</b>\nAmount: %s\nDue: %s\n%s", amount, due, invoice.Description)
	case enums.NotificationEventInvoicePaid:
		return fmt.Sprintf("<b>Invoice paid</b> ✅\nAmount: %s\n%s", amount, invoice.Description)
	case enums.NotificationEventInvoiceOverdue:
		return fmt.Sprintf("<b>Invoice overdue</b> ⚠️\nAmount: %s\nWas due: %s\n%s", amount, due, invoice.Description)
	case enums.NotificationEventInvoiceCancelled:
		return fmt.Sprintf("<b>Invoice cancelled</b>\nAmount: %s\n%s", amount, invoice.Description)
	default:
		return fmt.Sprintf("<b>Invoice update</b>\nAmount: %s\n%s", amount, invoice.Description)
	}
}
