package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const DefaultTelegramAPI = "https://api.telegram.org"

type TelegramConfig struct {
	Token   string
	ChatID  string
	BaseURL string

	HTTPClient *http.Client
}

// Telegram sends a Markdown message per notice, then the attachment as a
// document when one is present.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	hc      *http.Client
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultTelegramAPI
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{token: cfg.Token, chatID: cfg.ChatID, baseURL: base, hc: hc}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notice) error {
	if err := t.SendMessage(ctx, FormatMarkdown(n)); err != nil {
		return err
	}
	if len(n.Attachment) == 0 {
		return nil
	}
	return t.SendDocument(ctx, n.AttachmentName, n.Attachment, n.Caption)
}

// FormatMarkdown renders n as bold title plus one code-formatted field per
// line.
func FormatMarkdown(n Notice) string {
	var b strings.Builder
	if n.Title != "" {
		b.WriteString("*")
		b.WriteString(n.Title)
		b.WriteString("*\n")
	}
	if len(n.Fields) > 0 {
		b.WriteString("\n")
	}
	for _, f := range n.Fields {
		fmt.Fprintf(&b, "*%s:* `%s`\n", f.Name, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	return t.post(ctx, "sendMessage", "application/json", body)
}

func (t *Telegram) SendDocument(ctx context.Context, name string, content []byte, caption string) error {
	if name == "" {
		name = "attachment.json"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename="%s"`, name))
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return t.post(ctx, "sendDocument", mw.FormDataContentType(), buf.Bytes())
}

func (t *Telegram) post(ctx context.Context, method, contentType string, body []byte) error {
	u := t.baseURL + "/bot" + t.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err, t.token))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 || !out.OK {
		msg := out.Description
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("telegram %s failed: status=%d %s", method, resp.StatusCode, msg)
	}
	return nil
}

// redact keeps the bot token out of logged transport errors, which embed
// the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}
