package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tutorbill/tutorbill-backend/pkg/config"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

var (
	errBotTokenRequired = errors.New("telegram bot token is required")
	errLoggerRequired   = errors.New("telegram logger is required")
)

// Client talks to the Telegram Bot API for invoice delivery messages.
type Client struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	logger     *logger.Logger
}

// NewClient validates the bot credentials and builds the API client.
func NewClient(cfg config.TelegramConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errBotTokenRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		botToken:   token,
		logger:     logg,
	}, nil
}

// Message is the subset of the Bot API message object the platform keeps.
type Message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Ref returns the stable reference stored alongside an invoice so follow-up
// edits can address the delivered message.
func (m Message) Ref() string {
	return fmt.Sprintf("%d:%d", m.Chat.ID, m.MessageID)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type editMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// SendMessage delivers a text message to the chat and returns the message ref.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "telegram chat id is required")
	}
	payload := sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"}

	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "send_message", map[string]any{
		"chat_id":    chatID,
		"message_id": msg.MessageID,
	})
	return &msg, nil
}

// EditMessage replaces the text of a previously delivered message.
func (c *Client) EditMessage(ctx context.Context, chatID string, messageID int64, text string) (*Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "telegram chat id is required")
	}
	payload := editMessageRequest{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: "HTML"}

	var msg Message
	if err := c.call(ctx, "editMessageText", payload, &msg); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "edit_message", map[string]any{
		"chat_id":    chatID,
		"message_id": msg.MessageID,
	})
	return &msg, nil
}

func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding telegram request")
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	c.log(ctx, "request", method, map[string]any{"method": method})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling telegram api")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading telegram response")
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding telegram response")
	}
	if !apiResp.OK {
		c.log(ctx, "error", method, map[string]any{
			"error_code":  apiResp.ErrorCode,
			"description": apiResp.Description,
		})
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("telegram api error %d: %s", apiResp.ErrorCode, apiResp.Description))
	}
	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding telegram result")
		}
	}
	return nil
}

func (c *Client) log(ctx context.Context, stage, operation string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	entry := map[string]any{"telegram_stage": stage, "telegram_operation": operation}
	for k, v := range fields {
		entry[k] = v
	}
	logCtx := c.logger.WithFields(ctx, entry)
	if stage == "error" {
		c.logger.Warn(logCtx, "telegram api call failed")
		return
	}
	c.logger.Info(logCtx, "telegram api call")
}
