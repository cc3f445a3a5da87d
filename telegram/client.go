package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIBaseURL = "https://api.telegram.org"

	// Bot API allows ~30 messages/second across all chats. Stay under it.
	globalSendRate  = 25
	globalSendBurst = 5
)

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Bot API client. baseURL is overridable for tests.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(globalSendRate, globalSendBurst),
	}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage delivers one HTML-formatted message to one chat. Returns
// (false, nil) when Telegram rejects the send (rate limited, blocked chat,
// bad chat id); errors are reserved for transport-level faults.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return false, fmt.Errorf("marshal sendMessage: %w", err)
	}

	reqURL := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("sendMessage to %d: %w", chatID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read sendMessage response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return false, fmt.Errorf("decode sendMessage response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK {
		log.Printf("[telegram] send to %d rejected: %d %s", chatID, apiResp.ErrorCode, apiResp.Description)
		return false, nil
	}
	return true, nil
}
