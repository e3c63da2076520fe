package messaging

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/telegram"
)

type fakeChatClient struct {
	sent    []string
	edited  []int64
	sendErr error
	editErr error
	nextID  int64
}

func chatMessage(chatID string, messageID int64) *telegram.Message {
	id, _ := strconv.ParseInt(chatID, 10, 64)
	msg := &telegram.Message{MessageID: messageID}
	msg.Chat.ID = id
	return msg
}

func (c *fakeChatClient) SendMessage(ctx context.Context, chatID, text string) (*telegram.Message, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.nextID++
	c.sent = append(c.sent, text)
	return chatMessage(chatID, c.nextID), nil
}

func (c *fakeChatClient) EditMessage(ctx context.Context, chatID string, messageID int64, text string) (*telegram.Message, error) {
	if c.editErr != nil {
		return nil, c.editErr
	}
	c.edited = append(c.edited, messageID)
	return chatMessage(chatID, messageID), nil
}

type fakeUserDirectory struct {
	users map[uuid.UUID]*models.User
}

func (d *fakeUserDirectory) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return d.users[userID], nil
}

func newTestMessenger(t *testing.T, chat *fakeChatClient, users *fakeUserDirectory) *TelegramMessenger {
	t.Helper()
	m, err := NewTelegramMessenger(TelegramMessengerParams{
		Chat:   chat,
		Users:  users,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return m
}

func messengerInvoice(parentID uuid.UUID) *models.Invoice {
	return &models.Invoice{
		ID:          uuid.New(),
		TutorID:     uuid.New(),
		StudentID:   uuid.New(),
		ParentID:    parentID,
		Amount:      decimal.RequireFromString("60.00"),
		Description: "Chemistry lessons",
		Status:      enums.InvoiceStatusSent,
		DueDate:     time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC),
	}
}

func parentWithChat(chatID string) *models.User {
	return &models.User{
		ID:             uuid.New(),
		Email:          "p@example.com",
		FullName:       "Pat Parent",
		Role:           enums.UserRoleParent,
		TelegramChatID: &chatID,
		Active:         true,
	}
}

func TestDeliverSendsFirstMessage(t *testing.T) {
	parent := parentWithChat("12345")
	chat := &fakeChatClient{}
	m := newTestMessenger(t, chat, &fakeUserDirectory{users: map[uuid.UUID]*models.User{parent.ID: parent}})

	ref, err := m.DeliverInvoiceMessage(context.Background(), messengerInvoice(parent.ID), enums.NotificationEventInvoiceSent)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "12345:1", *ref)
	require.Len(t, chat.sent, 1)
	require.Contains(t, chat.sent[0], "60.00")
	require.Contains(t, chat.sent[0], "2026-07-20")
}

func TestDeliverEditsExistingMessage(t *testing.T) {
	parent := parentWithChat("12345")
	chat := &fakeChatClient{}
	m := newTestMessenger(t, chat, &fakeUserDirectory{users: map[uuid.UUID]*models.User{parent.ID: parent}})

	invoice := messengerInvoice(parent.ID)
	existing := "12345:7"
	invoice.ExternalMessageRef = &existing

	ref, err := m.DeliverInvoiceMessage(context.Background(), invoice, enums.NotificationEventInvoicePaid)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "12345:7", *ref)
	require.Empty(t, chat.sent)
	require.Equal(t, []int64{7}, chat.edited)
}

func TestDeliverFallsBackToSendWhenEditFails(t *testing.T) {
	parent := parentWithChat("12345")
	chat := &fakeChatClient{editErr: errors.New("message to edit not found")}
	m := newTestMessenger(t, chat, &fakeUserDirectory{users: map[uuid.UUID]*models.User{parent.ID: parent}})

	invoice := messengerInvoice(parent.ID)
	existing := "12345:7"
	invoice.ExternalMessageRef = &existing

	ref, err := m.DeliverInvoiceMessage(context.Background(), invoice, enums.NotificationEventInvoiceOverdue)
	require.NoError(t, err)
	require.NotNil(t, ref)
	require.Equal(t, "12345:1", *ref)
	require.Len(t, chat.sent, 1)
}

func TestDeliverSkipsParentWithoutChat(t *testing.T) {
	parent := parentWithChat("12345")
	parent.TelegramChatID = nil
	chat := &fakeChatClient{}
	m := newTestMessenger(t, chat, &fakeUserDirectory{users: map[uuid.UUID]*models.User{parent.ID: parent}})

	ref, err := m.DeliverInvoiceMessage(context.Background(), messengerInvoice(parent.ID), enums.NotificationEventInvoiceSent)
	require.NoError(t, err)
	require.Nil(t, ref)
	require.Empty(t, chat.sent)
}

func TestDeliverPropagatesSendFailure(t *testing.T) {
	parent := parentWithChat("12345")
	chat := &fakeChatClient{sendErr: errors.New("chat not found")}
	m := newTestMessenger(t, chat, &fakeUserDirectory{users: map[uuid.UUID]*models.User{parent.ID: parent}})

	ref, err := m.DeliverInvoiceMessage(context.Background(), messengerInvoice(parent.ID), enums.NotificationEventInvoiceSent)
	require.Error(t, err)
	require.Nil(t, ref)
}
