package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTelegramURL = "https://api.telegram.org"
	DefaultRoute       = "ALTCOIN"
)

// Route is a bot token and chat pair.
type Route struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chatId"`
}

// Telegram posts messages through the Bot API. Symbols without their own
// route use the DefaultRoute entry.
type Telegram struct {
	baseURL string
	routes  map[string]Route
	client  *http.Client
}

func NewTelegram(baseURL string, routes map[string]Route) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  routes,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) route(symbol string) (Route, bool) {
	if r, ok := t.routes[symbol]; ok && r.Token != "" {
		return r, true
	}
	r, ok := t.routes[DefaultRoute]
	return r, ok && r.Token != ""
}

func (t *Telegram) Notify(ctx context.Context, symbol, text string) {
	r, ok := t.route(symbol)
	if !ok {
		slog.Debug("telegram route missing", "symbol", symbol)
		return
	}
	form := url.Values{}
	form.Set("chat_id", r.ChatID)
	form.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(r, "sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("telegram request failed", "symbol", symbol, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := t.send(req); err != nil {
		slog.Error("telegram notify failed", "symbol", symbol, "error", err)
	}
}

func (t *Telegram) SendImage(ctx context.Context, symbol string, image []byte) {
	r, ok := t.route(symbol)
	if !ok {
		return
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", r.ChatID); err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
		return
	}
	part, err := w.CreateFormFile("photo", symbol+".png")
	if err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
		return
	}
	if _, err := part.Write(image); err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
		return
	}
	if err := w.Close(); err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(r, "sendPhoto"), &body)
	if err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
		return
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := t.send(req); err != nil {
		slog.Error("telegram image failed", "symbol", symbol, "error", err)
	}
}

func (t *Telegram) endpoint(r Route, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, r.Token, method)
}

func (t *Telegram) send(req *http.Request) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return nil
}
