// Package whatsapp is the WhatsApp Cloud API client. All sends go through
// a bounded semaphore so upstream concurrency stays capped regardless of
// how many goroutines dispatch messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/sirupsen/logrus"
)

type Config struct {
	BaseURL        string
	APIVersion     string
	AccessToken    string
	PhoneNumberID  string
	CatalogID      string
	MaxConcurrency int
}

// Control calls are small JSON round trips; media transfers move bytes
// and get a far longer budget.
const (
	controlTimeout = 15 * time.Second
	mediaTimeout   = 120 * time.Second
)

type Client struct {
	control *http.Client
	media   *http.Client
	cfg     Config
	sem     chan struct{}
	baseURL string
}

func NewClient(cfg Config) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Client{
		control: &http.Client{Timeout: controlTimeout},
		media:   &http.Client{Timeout: mediaTimeout},
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
		baseURL: fmt.Sprintf("%s/%s", cfg.BaseURL, cfg.APIVersion),
	}
}

func (c *Client) CatalogID() string { return c.cfg.CatalogID }

// APIError is a non-2xx Cloud API response with its raw body preserved
// for logging and retry decisions.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status %d: %s", e.StatusCode, e.Body)
}

// Envelope is the Cloud API response to a message send.
type Envelope struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// FirstMessageID returns the upstream id of the first accepted message.
func (e *Envelope) FirstMessageID() string {
	if e == nil || len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[0].ID
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// postMessages POSTs a payload to /{phone_number_id}/messages.
func (c *Client) postMessages(ctx context.Context, payload any) (*Envelope, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("send").Inc()
		return nil, fmt.Errorf("failed to reach whatsapp api: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamErrors.WithLabelValues("send").Inc()
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Error("[SEND] upstream rejected message")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	return &env, nil
}

type textPayload struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

// SendText sends a plain text message; replyTo, when set, threads it as a
// reply to that upstream id.
func (c *Client) SendText(ctx context.Context, to, body, replyTo string) (*Envelope, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              textPayload{Body: body, PreviewURL: true},
	}
	if replyTo != "" {
		payload["context"] = messageContext{MessageID: replyTo}
	}
	return c.postMessages(ctx, payload)
}

// SendMediaByID sends previously uploaded media. kind is one of image,
// audio, video, document, sticker.
func (c *Client) SendMediaByID(ctx context.Context, to, kind, mediaID, caption string) (*Envelope, error) {
	media := map[string]any{"id": mediaID}
	if caption != "" && kind != "audio" && kind != "sticker" {
		media["caption"] = caption
	}
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              kind,
		kind:                media,
	})
}

// SendMediaByLink sends media hosted at a public URL.
func (c *Client) SendMediaByLink(ctx context.Context, to, kind, link, caption string) (*Envelope, error) {
	media := map[string]any{"link": link}
	if caption != "" && kind != "audio" && kind != "sticker" {
		media["caption"] = caption
	}
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              kind,
		kind:                media,
	})
}

// SendReaction attaches emoji to the target message; an empty emoji
// removes a previous reaction.
func (c *Client) SendReaction(ctx context.Context, to, targetID, emoji string) (*Envelope, error) {
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "reaction",
		"reaction": map[string]string{
			"message_id": targetID,
			"emoji":      emoji,
		},
	})
}

// MarkRead sends a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	body, _ := json.Marshal(map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("mark_read").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return nil
}
