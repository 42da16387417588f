// Package notifier отправляет исходящие уведомления о статусах заявок.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotConfigured возвращается, если адрес уведомлений не задан.
var ErrNotConfigured = errors.New("notifier not configured")

// Client инкапсулирует HTTP-отправку уведомлений чат-боту.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// statusEvent описывает одно уведомление о смене статуса заявки.
type statusEvent struct {
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	UserID      int64  `json:"user_id"`
}

// NewClient создаёт HTTP-клиент уведомлений для указанного адреса.
func NewClient(baseURL string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 3 * time.Second
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// NotifyOrderStatus отправляет уведомление о переводе заявки в новый статус.
// Доставка негарантированная: вызывающая сторона логирует ошибку и не
// повторяет вызов сверх ретраев HTTP-клиента.
func (c *Client) NotifyOrderStatus(ctx context.Context, orderNumber, status string, userID int64) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(statusEvent{
		OrderNumber: orderNumber,
		Status:      status,
		UserID:      userID,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
