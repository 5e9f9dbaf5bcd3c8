package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultNotifyTimeout = 10 * time.Second

// ChatConfig configures the chat bot channel.
type ChatConfig struct {
	// URL is the bot API's message endpoint.
	URL string
	// ChatID addresses the human's conversation with the bot.
	ChatID string
	// ConsoleURL is the relay console base URL that trust and block
	// links point into.
	ConsoleURL string
	// Timeout bounds one notification request. Defaults to 10s.
	Timeout time.Duration
	// Limiter paces sends to the bot API. Defaults to 1/s with a
	// small burst.
	Limiter *rate.Limiter
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// ChatNotifier sends notifications through a chat bot API that speaks
// the common chat_id/text/inline_keyboard JSON shape.
type ChatNotifier struct {
	cfg     ChatConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewChatNotifier creates the chat channel.
func NewChatNotifier(cfg ChatConfig) (*ChatNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("notification URL cannot be empty")
	}
	if cfg.ChatID == "" {
		return nil, errors.New("notification chat id cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNotifyTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 3)
	}
	return &ChatNotifier{cfg: cfg, client: client, limiter: limiter}, nil
}

type chatMessage struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// NotifyMessage announces a delivered message.
func (n *ChatNotifier) NotifyMessage(ctx context.Context, sender, body string) error {
	return n.send(ctx, chatMessage{
		ChatID: n.cfg.ChatID,
		Text:   fmt.Sprintf("@%s: %s", sender, body),
	})
}

// NotifyBlind announces a held message. The first action row reveals
// the cached body in place; the second row links the human into the
// relay console to trust or block the sender.
func (n *ChatNotifier) NotifyBlind(ctx context.Context, sender, messageID string) error {
	console := strings.TrimRight(n.cfg.ConsoleURL, "/")
	return n.send(ctx, chatMessage{
		ChatID: n.cfg.ChatID,
		Text:   fmt.Sprintf("@%s sent a message. They are not trusted yet, so it was not shown to your assistant.", sender),
		ReplyMarkup: &replyMarkup{InlineKeyboard: [][]inlineButton{
			{
				{Text: "Show", CallbackData: fmt.Sprintf("reveal:%s/%s", sender, messageID)},
			},
			{
				{Text: fmt.Sprintf("Trust @%s", sender), URL: fmt.Sprintf("%s/trust/%s", console, sender)},
				{Text: "Block", URL: fmt.Sprintf("%s/block/%s", console, sender)},
			},
		}},
	})
}

// NotifyWarning announces flagged content. Sender, reason, and body
// are escaped so flagged text cannot inject markup into the surface.
func (n *ChatNotifier) NotifyWarning(ctx context.Context, sender, reason, body string) error {
	return n.send(ctx, chatMessage{
		ChatID:    n.cfg.ChatID,
		ParseMode: "HTML",
		Text: fmt.Sprintf("Message from @%s was flagged (%s) and was not shown to your assistant:\n<pre>%s</pre>",
			html.EscapeString(sender), html.EscapeString(reason), html.EscapeString(body)),
	})
}

// NotifySystem announces a relay system event.
func (n *ChatNotifier) NotifySystem(ctx context.Context, text string) error {
	return n.send(ctx, chatMessage{ChatID: n.cfg.ChatID, Text: text})
}

func (n *ChatNotifier) send(ctx context.Context, msg chatMessage) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for notification rate limit: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification channel returned status %d", resp.StatusCode)
	}
	return nil
}
