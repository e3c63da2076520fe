package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutorbill/tutorbill-backend/pkg/config"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(config.TelegramConfig{BotToken: "token"}, nil); err == nil {
		t.Fatal("expected logger required error")
	}
	if _, err := NewClient(config.TelegramConfig{BotToken: "  "}, newTestLogger()); err == nil {
		t.Fatal("expected bot token required error")
	}
}

func TestSendMessageReturnsRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["chat_id"] != "12345" {
			t.Fatalf("unexpected chat id %v", req["chat_id"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"chat":{"id":12345}}}`))
	}))
	defer srv.Close()

	client, err := NewClient(config.TelegramConfig{
		BotToken: "token",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	msg, err := client.SendMessage(context.Background(), "12345", "Invoice sent")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.MessageID != 77 {
		t.Fatalf("expected message id 77, got %d", msg.MessageID)
	}
	if msg.Ref() != "12345:77" {
		t.Fatalf("unexpected ref %s", msg.Ref())
	}
}

func TestSendMessageAPIErrorMapsToDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	client, err := NewClient(config.TelegramConfig{
		BotToken: "token",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.SendMessage(context.Background(), "99", "hi")
	if err == nil {
		t.Fatal("expected api error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !strings.Contains(typed.Message(), "chat not found") {
		t.Fatalf("expected description in message, got %s", typed.Message())
	}
}

func TestSendMessageRequiresChatID(t *testing.T) {
	client, err := NewClient(config.TelegramConfig{BotToken: "token"}, newTestLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SendMessage(context.Background(), " ", "hi")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestEditMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/editMessageText") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"chat":{"id":12345}}}`))
	}))
	defer srv.Close()

	client, err := NewClient(config.TelegramConfig{
		BotToken: "token",
		BaseURL:  srv.URL,
		Timeout:  time.Second,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	msg, err := client.EditMessage(context.Background(), "12345", 77, "Invoice paid")
	if err != nil {
		t.Fatalf("edit message: %v", err)
	}
	if msg.Ref() != "12345:77" {
		t.Fatalf("unexpected ref %s", msg.Ref())
	}
}
