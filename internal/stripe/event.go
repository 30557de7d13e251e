package stripe

import (
	"encoding/json"
	"fmt"
)

// Webhook event types the reconciler consumes.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Event is the signed webhook envelope. Object keeps the raw inner object so
// each handler can decode the shape it expects.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// EventSubscription is the data.object payload of subscription events.
type EventSubscription struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer"`
	Status        string `json:"status"`
	TrialEndUnix  int64  `json:"trial_end"`
	PeriodEndUnix int64  `json:"current_period_end"`
}

// EventInvoice is the data.object payload of invoice events.
type EventInvoice struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	CustomerEmail  string `json:"customer_email"`
	SubscriptionID string `json:"subscription"`
	Paid           bool   `json:"paid"`
}

func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("webhook event missing type")
	}
	return &evt, nil
}

func (e *Event) Subscription() (*EventSubscription, error) {
	var sub EventSubscription
	if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription object: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("subscription object missing id")
	}
	return &sub, nil
}

func (e *Event) Invoice() (*EventInvoice, error) {
	var inv EventInvoice
	if err := json.Unmarshal(e.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice object: %w", err)
	}
	return &inv, nil
}
