package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/stripe"
)

// Per-entity store contracts implemented by the repository package. Services
// depend on these rather than on *sql.DB so business rules stay separate from
// SQL.

type CompanyStore interface {
	FindByID(ctx context.Context, id int64) (*models.Company, error)
	FindByLineUserID(ctx context.Context, lineUserID string) (*models.Company, error)
	FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Company, error)
	FindByEmail(ctx context.Context, email string) (*models.Company, error)
	FindOldestUnlinkedPending(ctx context.Context) (*models.Company, error)
	Create(ctx context.Context, company *models.Company) (*models.Company, error)
	UpdateBillingLink(ctx context.Context, companyID int64, customerID, subscriptionID string) error
	SetTrialEnd(ctx context.Context, companyID int64, trialEnd sql.NullTime) error
	SetStatus(ctx context.Context, companyID int64, status string) error
	LinkLineUser(ctx context.Context, companyID int64, lineUserID string) error
	UnlinkLineUser(ctx context.Context, lineUserID string) error
	SetWelcomePending(ctx context.Context, companyID int64, pending bool) error
	List(ctx context.Context) ([]models.Company, error)
}

type SubscriptionStore interface {
	UpsertBase(ctx context.Context, companyID int64, stripeSubscriptionID, status string, periodEnd sql.NullTime) error
	FindByLabel(ctx context.Context, companyID int64, label string) (*models.ContentSubscription, error)
	CreateContent(ctx context.Context, companyID int64, label, stripeSubscriptionID string, periodEnd *time.Time) error
	SetStatus(ctx context.Context, id int64, status string) error
	Reactivate(ctx context.Context, id int64, periodEnd *time.Time) error
	DisableAllForCompany(ctx context.Context, companyID int64) error
	ListByCompany(ctx context.Context, companyID int64) ([]models.ContentSubscription, error)
}

type UsageStore interface {
	FindByLabel(ctx context.Context, companyID int64, label string) (*models.UsageLogEntry, error)
	CountByCompany(ctx context.Context, companyID int64) (int, error)
	Insert(ctx context.Context, entry *models.UsageLogEntry) error
	Delete(ctx context.Context, id int64) error
	ListByCompany(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error)
	ListPending(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error)
	MarkCharged(ctx context.Context, id int64, invoiceItemID string) (bool, error)
	ClearPending(ctx context.Context, id int64) error
	SetInvoiceItem(ctx context.Context, id int64, invoiceItemID string) error
}

type StateStore interface {
	Get(ctx context.Context, lineUserID string) (models.Step, error)
	Set(ctx context.Context, lineUserID string, step models.Step) error
	Clear(ctx context.Context, lineUserID string) error
}

// BillingClient is the outbound surface of the payment provider used by the
// services; implemented by the stripe package.
type BillingClient interface {
	CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CreateInvoiceItem(ctx context.Context, params stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*stripe.Subscription, error)
}

// Notifier delivers out-of-band chat notifications (welcome, renewal).
type Notifier interface {
	SendWelcome(ctx context.Context, lineUserID string) error
}
