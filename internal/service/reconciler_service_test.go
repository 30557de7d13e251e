package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/stripe"
	"github.com/digkill/aicollect/pkg/logger"
)

func subscriptionEvent(eventType, subID, customerID, status string, trialEnd, periodEnd int64) *stripe.Event {
	object := map[string]any{
		"id":                 subID,
		"customer":           customerID,
		"status":             status,
		"trial_end":          trialEnd,
		"current_period_end": periodEnd,
	}
	raw, _ := json.Marshal(object)
	payload := fmt.Sprintf(`{"id":"evt_1","type":%q,"data":{"object":%s}}`, eventType, raw)
	evt, err := stripe.ParseEvent([]byte(payload))
	if err != nil {
		panic(err)
	}
	return evt
}

func invoiceEvent(eventType, subID, customerID string) *stripe.Event {
	payload := fmt.Sprintf(`{"id":"evt_2","type":%q,"data":{"object":{"id":"in_1","customer":%q,"subscription":%q}}}`,
		eventType, customerID, subID)
	evt, err := stripe.ParseEvent([]byte(payload))
	if err != nil {
		panic(err)
	}
	return evt
}

func newReconciler(companies *fakeCompanyStore, subs *fakeSubscriptionStore, billing *fakeBilling, notifier *fakeNotifier) *ReconcilerService {
	return NewReconcilerService(testConfig(), logger.New(), companies, subs, billing, notifier)
}

func TestSubscriptionCreatedCreatesCompany(t *testing.T) {
	companies := &fakeCompanyStore{}
	subs := &fakeSubscriptionStore{}
	billing := &fakeBilling{customer: &stripe.Customer{Email: " Taro＠example.com "}}
	notifier := &fakeNotifier{}
	svc := newReconciler(companies, subs, billing, notifier)
	ctx := context.Background()

	trialEnd := time.Now().AddDate(0, 0, 14).Unix()
	evt := subscriptionEvent(stripe.EventSubscriptionCreated, "sub_1", "cus_1", models.StatusTrialing, trialEnd, 0)
	require.NoError(t, svc.HandleEvent(ctx, evt))

	// Full-width @ and case fold under normalization.
	company, err := companies.FindByEmail(ctx, "taro@example.com")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "企業_taro", company.Name)
	assert.Equal(t, "sub_1", company.StripeSubscriptionID)
	assert.NotNil(t, company.TrialEnd)
	assert.True(t, company.WelcomePending, "welcome deferred until the chat link exists")
	assert.Empty(t, notifier.welcomed)

	base, err := subs.FindByLabel(ctx, company.ID, models.BaseContentLabel)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, models.StatusTrialing, base.Status)
}

func TestSubscriptionCreatedRedeliveryIsIdempotent(t *testing.T) {
	companies := &fakeCompanyStore{}
	subs := &fakeSubscriptionStore{}
	billing := &fakeBilling{customer: &stripe.Customer{Email: "taro@example.com"}}
	svc := newReconciler(companies, subs, billing, &fakeNotifier{})
	ctx := context.Background()

	evt := subscriptionEvent(stripe.EventSubscriptionCreated, "sub_1", "cus_1", models.StatusActive, 0, 0)
	require.NoError(t, svc.HandleEvent(ctx, evt))
	require.NoError(t, svc.HandleEvent(ctx, evt))

	list, err := companies.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "redelivery must not duplicate the company")

	rows, err := subs.ListByCompany(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "redelivery must not duplicate the base row")
}

func TestSubscriptionCreatedWelcomesLinkedUser(t *testing.T) {
	companies := &fakeCompanyStore{}
	existing, err := companies.Create(context.Background(), &models.Company{
		Email:                "taro@example.com",
		StripeSubscriptionID: "sub_1",
		LineUserID:           "U123",
	})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	svc := newReconciler(companies, &fakeSubscriptionStore{}, &fakeBilling{}, notifier)

	evt := subscriptionEvent(stripe.EventSubscriptionCreated, "sub_1", "cus_1", models.StatusActive, 0, 0)
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, []string{"U123"}, notifier.welcomed)

	company, err := companies.FindByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.False(t, company.WelcomePending)
}

func TestSubscriptionDeletedDisablesContent(t *testing.T) {
	companies := &fakeCompanyStore{}
	company, err := companies.Create(context.Background(), &models.Company{
		Email:                "taro@example.com",
		StripeSubscriptionID: "sub_1",
		Status:               models.StatusActive,
	})
	require.NoError(t, err)

	subs := &fakeSubscriptionStore{}
	require.NoError(t, subs.CreateContent(context.Background(), company.ID, "AI予定秘書", "sub_1", nil))

	svc := newReconciler(companies, subs, &fakeBilling{}, &fakeNotifier{})
	evt := subscriptionEvent(stripe.EventSubscriptionDeleted, "sub_1", "cus_1", models.StatusCanceled, 0, 0)
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	updated, err := companies.FindByID(context.Background(), company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, updated.Status)

	rows, err := subs.ListByCompany(context.Background(), company.ID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.ContentLabel == "AI予定秘書" {
			assert.Equal(t, models.StatusInactive, row.Status)
		}
	}
}

func TestSubscriptionDeletedUnknownIsAcknowledged(t *testing.T) {
	svc := newReconciler(&fakeCompanyStore{}, &fakeSubscriptionStore{}, &fakeBilling{}, &fakeNotifier{})
	evt := subscriptionEvent(stripe.EventSubscriptionDeleted, "sub_missing", "cus_1", models.StatusCanceled, 0, 0)
	assert.NoError(t, svc.HandleEvent(context.Background(), evt))
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	companies := &fakeCompanyStore{}
	company, err := companies.Create(context.Background(), &models.Company{
		Email:                "taro@example.com",
		StripeSubscriptionID: "sub_1",
		Status:               models.StatusActive,
	})
	require.NoError(t, err)

	subs := &fakeSubscriptionStore{}
	svc := newReconciler(companies, subs, &fakeBilling{}, &fakeNotifier{})

	evt := invoiceEvent(stripe.EventInvoiceFailed, "sub_1", "cus_1")
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	base, err := subs.FindByLabel(context.Background(), company.ID, models.BaseContentLabel)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, models.StatusPastDue, base.Status)
}

func TestInvoicePaidUnresolvableCustomerAcknowledged(t *testing.T) {
	// Unknown subscription and a customer record without an email: redelivery
	// can never resolve it, so the event must be acked instead of erroring
	// into an endless retry loop.
	companies := &fakeCompanyStore{}
	billing := &fakeBilling{customer: &stripe.Customer{ID: "cus_1"}}
	svc := newReconciler(companies, &fakeSubscriptionStore{}, billing, &fakeNotifier{})

	evt := invoiceEvent(stripe.EventInvoicePaid, "sub_missing", "cus_1")
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	list, err := companies.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "no placeholder company for an unresolvable customer")
}

func TestUnknownEventIgnored(t *testing.T) {
	svc := newReconciler(&fakeCompanyStore{}, &fakeSubscriptionStore{}, &fakeBilling{}, &fakeNotifier{})
	evt, err := stripe.ParseEvent([]byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.NoError(t, svc.HandleEvent(context.Background(), evt))
}
