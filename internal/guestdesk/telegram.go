package guestdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TelegramClientOptions configures a TelegramMessenger.
type TelegramClientOptions struct {
	BaseURL    string
	Token      string
	SelfID     int64
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// TelegramMessenger delivers notifications through the Telegram Bot API
// sendMessage method. Recipient-level failures (bot blocked, chat not
// found, sending to the bot itself) come back as permanent
// DeliveryErrors; rate limits and server errors are retried in-call
// with bounded backoff and surface as transient if retries run out.
type TelegramMessenger struct {
	baseURL    string
	token      string
	selfID     int64
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewTelegramMessenger(opts TelegramClientOptions) (*TelegramMessenger, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("telegram token is required: %w", ErrInvalidInput)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 3 * time.Second
	}
	return &TelegramMessenger{
		baseURL:    baseURL,
		token:      token,
		selfID:     opts.SelfID,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}, nil
}

type telegramInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type telegramSendRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup *struct {
		InlineKeyboard [][]telegramInlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (m *TelegramMessenger) SendMessage(ctx context.Context, guestID int64, text string, buttons []Button) error {
	if guestID == 0 || strings.TrimSpace(text) == "" {
		return &DeliveryError{Permanent: true, Err: ErrInvalidInput}
	}
	if m.selfID != 0 && guestID == m.selfID {
		return &DeliveryError{Permanent: true, Err: fmt.Errorf("refusing to message own bot account %d", guestID)}
	}

	payload := telegramSendRequest{ChatID: guestID, Text: text}
	if len(buttons) > 0 {
		row := make([]telegramInlineButton, 0, len(buttons))
		for _, button := range buttons {
			row = append(row, telegramInlineButton{Text: button.Text, CallbackData: button.CallbackData})
		}
		payload.ReplyMarkup = &struct {
			InlineKeyboard [][]telegramInlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]telegramInlineButton{row}}
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Permanent: true, Err: err}
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", m.baseURL, m.token)

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return &DeliveryError{Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < m.maxRetries {
				if waitErr := sleepForRetry(ctx, m.retryDelay(attempt+1, 0, "")); waitErr != nil {
					return &DeliveryError{Err: waitErr}
				}
				continue
			}
			return &DeliveryError{Err: lastErr}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		retryAfterHeader := resp.Header.Get("Retry-After")
		_ = resp.Body.Close()
		if readErr != nil {
			return &DeliveryError{Err: readErr}
		}

		var parsed telegramResponse
		_ = json.Unmarshal(respBody, &parsed)
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 && parsed.OK {
			return nil
		}

		if isPermanentTelegramFailure(resp.StatusCode, parsed.Description) {
			return &DeliveryError{
				Permanent: true,
				Err:       fmt.Errorf("telegram rejected guest %d: status=%d %s", guestID, resp.StatusCode, parsed.Description),
			}
		}

		lastErr = fmt.Errorf("telegram send failed: status=%d %s", resp.StatusCode, strings.TrimSpace(parsed.Description))
		if attempt < m.maxRetries {
			if waitErr := sleepForRetry(ctx, m.retryDelay(attempt+1, parsed.Parameters.RetryAfter, retryAfterHeader)); waitErr != nil {
				return &DeliveryError{Err: waitErr}
			}
			continue
		}
		return &DeliveryError{Err: lastErr}
	}
}

// isPermanentTelegramFailure matches the API responses that mean this
// recipient can never get the message: 403 when the guest blocked the
// bot or it was kicked, 400 when the chat no longer exists.
func isPermanentTelegramFailure(statusCode int, description string) bool {
	lowered := strings.ToLower(description)
	switch statusCode {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return strings.Contains(lowered, "chat not found") ||
			strings.Contains(lowered, "user is deactivated") ||
			strings.Contains(lowered, "bot can't initiate conversation")
	}
	return false
}

func (m *TelegramMessenger) retryDelay(attempt, retryAfterSeconds int, retryAfterHeader string) time.Duration {
	if retryAfterSeconds <= 0 {
		if header := strings.TrimSpace(retryAfterHeader); header != "" {
			if parsed, err := strconv.Atoi(header); err == nil && parsed > 0 {
				retryAfterSeconds = parsed
			}
		}
	}
	if retryAfterSeconds > 0 {
		delay := time.Duration(retryAfterSeconds) * time.Second
		if delay > m.maxDelay {
			return m.maxDelay
		}
		return delay
	}
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	return delay
}

func sleepForRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
