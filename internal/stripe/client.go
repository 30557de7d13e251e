// Package stripe is a minimal client for the handful of Stripe REST calls
// the service needs: customers, subscriptions, invoice items and webhook
// signature verification.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/aicollect/internal/config"
)

type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey: cfg.StripeSecretKey,
		baseURL:   strings.TrimRight(cfg.StripeBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Subscription struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer"`
	Status            string `json:"status"`
	TrialEndUnix      int64  `json:"trial_end"`
	PeriodEndUnix     int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// TrialEnd converts the raw timestamp; ok is false when no trial is set.
func (s Subscription) TrialEnd() (time.Time, bool) {
	if s.TrialEndUnix == 0 {
		return time.Time{}, false
	}
	return time.Unix(s.TrialEndUnix, 0), true
}

func (s Subscription) CurrentPeriodEnd() (time.Time, bool) {
	if s.PeriodEndUnix == 0 {
		return time.Time{}, false
	}
	return time.Unix(s.PeriodEndUnix, 0), true
}

type InvoiceItem struct {
	ID string `json:"id"`
}

type InvoiceItemParams struct {
	CustomerID     string
	AmountMinor    int
	Currency       string
	Description    string
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

type apiError struct {
	Err struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	var customer Customer
	if err := c.post(ctx, "/v1/customers", form, "", &customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &customer, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	if err := c.get(ctx, "/v1/customers/"+url.PathEscape(customerID), &customer); err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &customer, nil
}

func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceID)
	if trialDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(trialDays))
	}
	var sub Subscription
	if err := c.post(ctx, "/v1/subscriptions", form, "", &sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &sub, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &sub); err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// CreateInvoiceItem books a one-off charge onto the next invoice of the given
// subscription. An idempotency key is attached so a retried call cannot
// double-bill.
func (c *Client) CreateInvoiceItem(ctx context.Context, params InvoiceItemParams) (*InvoiceItem, error) {
	form := url.Values{}
	form.Set("customer", params.CustomerID)
	form.Set("amount", strconv.Itoa(params.AmountMinor))
	form.Set("currency", params.Currency)
	form.Set("description", params.Description)
	if params.SubscriptionID != "" {
		form.Set("subscription", params.SubscriptionID)
	}
	if !params.PeriodStart.IsZero() {
		form.Set("period[start]", strconv.FormatInt(params.PeriodStart.Unix(), 10))
	}
	if !params.PeriodEnd.IsZero() {
		form.Set("period[end]", strconv.FormatInt(params.PeriodEnd.Unix(), 10))
	}
	var item InvoiceItem
	if err := c.post(ctx, "/v1/invoiceitems", form, uuid.NewString(), &item); err != nil {
		return nil, fmt.Errorf("create invoice item: %w", err)
	}
	return &item, nil
}

// CancelSubscription cancels immediately, or at period end when atPeriodEnd
// is set (the provider keeps the subscription active until then).
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*Subscription, error) {
	var sub Subscription
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		if err := c.post(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, "", &sub); err != nil {
			return nil, fmt.Errorf("cancel subscription at period end: %w", err)
		}
		return &sub, nil
	}
	if err := c.delete(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &sub); err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return &sub, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Err.Message != "" {
			return fmt.Errorf("stripe status %d: %s", resp.StatusCode, apiErr.Err.Message)
		}
		c.log.Error("stripe error response", "status", resp.StatusCode, "path", req.URL.Path)
		return fmt.Errorf("stripe status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}
