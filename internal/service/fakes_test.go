package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/stripe"
)

// In-memory store fakes. They implement just enough bookkeeping for the
// service rules under test; constraint behavior (unique keys) is covered by
// the repository tests.

type fakeUsageStore struct {
	nextID    int64
	entries   []*models.UsageLogEntry
	insertErr error
}

func (f *fakeUsageStore) FindByLabel(_ context.Context, companyID int64, label string) (*models.UsageLogEntry, error) {
	for _, e := range f.entries {
		if e.CompanyID == companyID && e.ContentLabel == label {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeUsageStore) CountByCompany(_ context.Context, companyID int64) (int, error) {
	count := 0
	for _, e := range f.entries {
		if e.CompanyID == companyID {
			count++
		}
	}
	return count, nil
}

func (f *fakeUsageStore) Insert(_ context.Context, entry *models.UsageLogEntry) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	entry.ID = f.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	copied := *entry
	f.entries = append(f.entries, &copied)
	return nil
}

func (f *fakeUsageStore) Delete(_ context.Context, id int64) error {
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return errors.New("entry not found")
}

func (f *fakeUsageStore) ListByCompany(_ context.Context, companyID int64) ([]models.UsageLogEntry, error) {
	var out []models.UsageLogEntry
	for _, e := range f.entries {
		if e.CompanyID == companyID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeUsageStore) ListPending(_ context.Context, companyID int64) ([]models.UsageLogEntry, error) {
	var out []models.UsageLogEntry
	for _, e := range f.entries {
		if e.CompanyID == companyID && e.PendingCharge {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeUsageStore) MarkCharged(_ context.Context, id int64, invoiceItemID string) (bool, error) {
	for _, e := range f.entries {
		if e.ID == id && e.PendingCharge {
			e.PendingCharge = false
			e.StripeInvoiceItemID = invoiceItemID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsageStore) ClearPending(_ context.Context, id int64) error {
	for _, e := range f.entries {
		if e.ID == id {
			e.PendingCharge = false
			return nil
		}
	}
	return errors.New("entry not found")
}

func (f *fakeUsageStore) SetInvoiceItem(_ context.Context, id int64, invoiceItemID string) error {
	for _, e := range f.entries {
		if e.ID == id {
			e.StripeInvoiceItemID = invoiceItemID
			return nil
		}
	}
	return errors.New("entry not found")
}

type fakeSubscriptionStore struct {
	nextID int64
	rows   []*models.ContentSubscription
}

func (f *fakeSubscriptionStore) UpsertBase(_ context.Context, companyID int64, subscriptionID, status string, periodEnd sql.NullTime) error {
	for _, r := range f.rows {
		if r.CompanyID == companyID && r.ContentLabel == models.BaseContentLabel {
			r.StripeSubscriptionID = subscriptionID
			r.Status = status
			if periodEnd.Valid {
				end := periodEnd.Time
				r.CurrentPeriodEnd = &end
			}
			return nil
		}
	}
	f.nextID++
	row := &models.ContentSubscription{
		ID:                   f.nextID,
		CompanyID:            companyID,
		ContentLabel:         models.BaseContentLabel,
		StripeSubscriptionID: subscriptionID,
		Status:               status,
	}
	if periodEnd.Valid {
		end := periodEnd.Time
		row.CurrentPeriodEnd = &end
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeSubscriptionStore) FindByLabel(_ context.Context, companyID int64, label string) (*models.ContentSubscription, error) {
	for _, r := range f.rows {
		if r.CompanyID == companyID && r.ContentLabel == label {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionStore) CreateContent(_ context.Context, companyID int64, label, subscriptionID string, periodEnd *time.Time) error {
	f.nextID++
	f.rows = append(f.rows, &models.ContentSubscription{
		ID:                   f.nextID,
		CompanyID:            companyID,
		ContentLabel:         label,
		StripeSubscriptionID: subscriptionID,
		Status:               models.StatusActive,
		CurrentPeriodEnd:     periodEnd,
	})
	return nil
}

func (f *fakeSubscriptionStore) SetStatus(_ context.Context, id int64, status string) error {
	for _, r := range f.rows {
		if r.ID == id {
			r.Status = status
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeSubscriptionStore) Reactivate(_ context.Context, id int64, periodEnd *time.Time) error {
	for _, r := range f.rows {
		if r.ID == id {
			r.Status = models.StatusActive
			r.CurrentPeriodEnd = periodEnd
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeSubscriptionStore) DisableAllForCompany(_ context.Context, companyID int64) error {
	for _, r := range f.rows {
		if r.CompanyID == companyID {
			r.Status = models.StatusInactive
		}
	}
	return nil
}

func (f *fakeSubscriptionStore) ListByCompany(_ context.Context, companyID int64) ([]models.ContentSubscription, error) {
	var out []models.ContentSubscription
	for _, r := range f.rows {
		if r.CompanyID == companyID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeCompanyStore struct {
	nextID    int64
	companies []*models.Company
}

func (f *fakeCompanyStore) find(match func(*models.Company) bool) (*models.Company, error) {
	for _, c := range f.companies {
		if match(c) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeCompanyStore) FindByID(_ context.Context, id int64) (*models.Company, error) {
	return f.find(func(c *models.Company) bool { return c.ID == id })
}

func (f *fakeCompanyStore) FindByLineUserID(_ context.Context, lineUserID string) (*models.Company, error) {
	return f.find(func(c *models.Company) bool { return c.LineUserID == lineUserID && lineUserID != "" })
}

func (f *fakeCompanyStore) FindByStripeSubscriptionID(_ context.Context, subscriptionID string) (*models.Company, error) {
	return f.find(func(c *models.Company) bool { return c.StripeSubscriptionID == subscriptionID })
}

func (f *fakeCompanyStore) FindByEmail(_ context.Context, email string) (*models.Company, error) {
	return f.find(func(c *models.Company) bool { return c.Email == email })
}

func (f *fakeCompanyStore) FindOldestUnlinkedPending(_ context.Context) (*models.Company, error) {
	return f.find(func(c *models.Company) bool {
		return c.LineUserID == "" && c.WelcomePending && c.Status != models.StatusCanceled
	})
}

func (f *fakeCompanyStore) Create(_ context.Context, company *models.Company) (*models.Company, error) {
	f.nextID++
	copied := *company
	copied.ID = f.nextID
	f.companies = append(f.companies, &copied)
	result := copied
	return &result, nil
}

func (f *fakeCompanyStore) update(id int64, apply func(*models.Company)) error {
	for _, c := range f.companies {
		if c.ID == id {
			apply(c)
			return nil
		}
	}
	return errors.New("company not found")
}

func (f *fakeCompanyStore) UpdateBillingLink(_ context.Context, companyID int64, customerID, subscriptionID string) error {
	return f.update(companyID, func(c *models.Company) {
		c.StripeCustomerID = customerID
		c.StripeSubscriptionID = subscriptionID
	})
}

func (f *fakeCompanyStore) SetTrialEnd(_ context.Context, companyID int64, trialEnd sql.NullTime) error {
	return f.update(companyID, func(c *models.Company) {
		if trialEnd.Valid {
			end := trialEnd.Time
			c.TrialEnd = &end
		} else {
			c.TrialEnd = nil
		}
	})
}

func (f *fakeCompanyStore) SetStatus(_ context.Context, companyID int64, status string) error {
	return f.update(companyID, func(c *models.Company) { c.Status = status })
}

func (f *fakeCompanyStore) LinkLineUser(_ context.Context, companyID int64, lineUserID string) error {
	return f.update(companyID, func(c *models.Company) {
		c.LineUserID = lineUserID
		c.WelcomePending = false
	})
}

func (f *fakeCompanyStore) UnlinkLineUser(_ context.Context, lineUserID string) error {
	for _, c := range f.companies {
		if c.LineUserID == lineUserID {
			c.LineUserID = ""
		}
	}
	return nil
}

func (f *fakeCompanyStore) SetWelcomePending(_ context.Context, companyID int64, pending bool) error {
	return f.update(companyID, func(c *models.Company) { c.WelcomePending = pending })
}

func (f *fakeCompanyStore) List(_ context.Context) ([]models.Company, error) {
	out := make([]models.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, *c)
	}
	return out, nil
}

type invoiceItemCall struct {
	params stripe.InvoiceItemParams
}

type fakeBilling struct {
	subscription    *stripe.Subscription
	subscriptionErr error
	customer        *stripe.Customer
	invoiceErr      error
	invoiceCalls    []invoiceItemCall
	cancelCalls     []string
	nextInvoiceID   int
}

func (f *fakeBilling) CreateCustomer(_ context.Context, email, _ string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_new", Email: email}, nil
}

func (f *fakeBilling) CreateSubscription(_ context.Context, customerID, _ string, trialDays int) (*stripe.Subscription, error) {
	sub := &stripe.Subscription{ID: "sub_new", CustomerID: customerID, Status: models.StatusActive}
	if trialDays > 0 {
		sub.Status = models.StatusTrialing
		sub.TrialEndUnix = time.Now().AddDate(0, 0, trialDays).Unix()
	}
	return sub, nil
}

func (f *fakeBilling) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if f.subscriptionErr != nil {
		return nil, f.subscriptionErr
	}
	if f.subscription == nil {
		return nil, errors.New("no such subscription")
	}
	copied := *f.subscription
	copied.ID = subscriptionID
	return &copied, nil
}

func (f *fakeBilling) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	if f.customer == nil {
		return nil, errors.New("no such customer")
	}
	copied := *f.customer
	copied.ID = customerID
	return &copied, nil
}

func (f *fakeBilling) CreateInvoiceItem(_ context.Context, params stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	f.invoiceCalls = append(f.invoiceCalls, invoiceItemCall{params: params})
	f.nextInvoiceID++
	return &stripe.InvoiceItem{ID: fmt.Sprintf("ii_%d", f.nextInvoiceID)}, nil
}

func (f *fakeBilling) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) (*stripe.Subscription, error) {
	f.cancelCalls = append(f.cancelCalls, subscriptionID)
	return &stripe.Subscription{ID: subscriptionID, Status: models.StatusActive, CancelAtPeriodEnd: atPeriodEnd}, nil
}

type fakeNotifier struct {
	welcomed []string
}

func (f *fakeNotifier) SendWelcome(_ context.Context, lineUserID string) error {
	f.welcomed = append(f.welcomed, lineUserID)
	return nil
}
