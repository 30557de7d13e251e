package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Step tags the current position of a chat user inside a multi-turn flow.
type Step string

const (
	StepWelcomeSent  Step = "welcome_sent"
	StepAddSelect    Step = "add_select"
	StepCancelSelect Step = "cancel_select"
)

const cancelConfirmPrefix = "cancel_confirm_"

// CancelConfirmStep encodes the pending cancellation target into the step tag
// so the confirmation survives a process restart.
func CancelConfirmStep(selection int) Step {
	return Step(fmt.Sprintf("%s%d", cancelConfirmPrefix, selection))
}

// CancelConfirmSelection extracts the pending selection from a
// cancel_confirm_N tag. ok is false for any other step.
func (s Step) CancelConfirmSelection() (int, bool) {
	raw, found := strings.CutPrefix(string(s), cancelConfirmPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Subscription statuses mirrored from the billing provider.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
	StatusInactive = "inactive"
	StatusPastDue  = "past_due"
)

type Company struct {
	ID                   int64
	Name                 string
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	TrialEnd             *time.Time
	LineUserID           string
	Status               string
	WelcomePending       bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ContentSubscription is one active base or content item attached to a
// company's monthly subscription.
type ContentSubscription struct {
	ID                   int64
	CompanyID            int64
	ContentLabel         string
	StripeSubscriptionID string
	Status               string
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type UsageLogEntry struct {
	ID                  int64
	CompanyID           int64
	ContentLabel        string
	IsFree              bool
	PendingCharge       bool
	StripeInvoiceItemID string
	CreatedAt           time.Time
}

// BaseContentLabel marks the per-company monthly base row in
// company_subscriptions, as opposed to chat-added content rows.
const BaseContentLabel = "月額基本料金"
