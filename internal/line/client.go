// Package line is a minimal client for the LINE Messaging API: webhook
// parsing, signature validation and reply/push sends.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/aicollect/internal/config"
)

type Client struct {
	channelToken string
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		channelToken: cfg.LineChannelToken,
		baseURL:      strings.TrimRight(cfg.LineBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Reply answers one inbound event. Reply tokens are single-use and expire
// within seconds; a failed reply must not be retried with the same token.
func (c *Client) Reply(ctx context.Context, replyToken string, messages []Message) error {
	body := map[string]any{
		"replyToken": replyToken,
		"messages":   messages,
	}
	if err := c.post(ctx, "/v2/bot/message/reply", body); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// Push sends messages without a reply token, for out-of-band notifications
// and as the fallback when a reply token has already expired.
func (c *Client) Push(ctx context.Context, userID string, messages []Message) error {
	body := map[string]any{
		"to":       userID,
		"messages": messages,
	}
	if err := c.post(ctx, "/v2/bot/message/push", body); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error("line error response", "status", resp.StatusCode, "path", path, "body", string(detail))
		return fmt.Errorf("line status %d", resp.StatusCode)
	}
	return nil
}
