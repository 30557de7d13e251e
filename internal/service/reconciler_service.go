package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/stripe"
)

// ReconcilerService keeps local Company/Subscription rows aligned with
// payment-provider webhook events. The provider delivers at least once and
// out of order, so every step is an idempotent upsert.
type ReconcilerService struct {
	cfg       config.Config
	log       *slog.Logger
	companies CompanyStore
	subs      SubscriptionStore
	billing   BillingClient
	notifier  Notifier
}

func NewReconcilerService(cfg config.Config, log *slog.Logger, companies CompanyStore, subs SubscriptionStore, billingClient BillingClient, notifier Notifier) *ReconcilerService {
	return &ReconcilerService{
		cfg:       cfg,
		log:       log,
		companies: companies,
		subs:      subs,
		billing:   billingClient,
		notifier:  notifier,
	}
}

// HandleEvent dispatches one verified webhook event. Unknown types are
// acknowledged without action so new provider events never cause retries.
func (s *ReconcilerService) HandleEvent(ctx context.Context, evt *stripe.Event) error {
	switch evt.Type {
	case stripe.EventSubscriptionCreated, stripe.EventSubscriptionUpdated:
		return s.handleSubscriptionUpsert(ctx, evt)
	case stripe.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, evt)
	case stripe.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, evt)
	case stripe.EventInvoiceFailed:
		return s.handleInvoiceFailed(ctx, evt)
	default:
		s.log.Debug("ignoring webhook event", "type", evt.Type)
		return nil
	}
}

func (s *ReconcilerService) handleSubscriptionUpsert(ctx context.Context, evt *stripe.Event) error {
	sub, err := evt.Subscription()
	if err != nil {
		return err
	}

	company, err := s.resolveCompany(ctx, sub.ID, sub.CustomerID)
	if err != nil {
		return err
	}
	if company == nil {
		return nil
	}

	if err := s.companies.UpdateBillingLink(ctx, company.ID, sub.CustomerID, sub.ID); err != nil {
		return err
	}
	var trialEnd sql.NullTime
	if sub.TrialEndUnix != 0 {
		trialEnd = sql.NullTime{Time: time.Unix(sub.TrialEndUnix, 0), Valid: true}
	}
	if err := s.companies.SetTrialEnd(ctx, company.ID, trialEnd); err != nil {
		return err
	}

	var periodEnd sql.NullTime
	if sub.PeriodEndUnix != 0 {
		periodEnd = sql.NullTime{Time: time.Unix(sub.PeriodEndUnix, 0), Valid: true}
	}
	if err := s.subs.UpsertBase(ctx, company.ID, sub.ID, sub.Status, periodEnd); err != nil {
		return err
	}

	switch sub.Status {
	case models.StatusActive, models.StatusTrialing:
		if err := s.companies.SetStatus(ctx, company.ID, models.StatusActive); err != nil {
			return err
		}
	case models.StatusCanceled:
		if err := s.companies.SetStatus(ctx, company.ID, models.StatusCanceled); err != nil {
			return err
		}
	}

	if evt.Type == stripe.EventSubscriptionCreated {
		s.notifyWelcome(ctx, company)
	}
	return nil
}

func (s *ReconcilerService) handleSubscriptionDeleted(ctx context.Context, evt *stripe.Event) error {
	sub, err := evt.Subscription()
	if err != nil {
		return err
	}

	company, err := s.companies.FindByStripeSubscriptionID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		// Deletion for a subscription we never saw; nothing to disable.
		s.log.Warn("deletion webhook for unknown subscription", "subscription_id", sub.ID)
		return nil
	}

	if err := s.companies.SetStatus(ctx, company.ID, models.StatusCanceled); err != nil {
		return err
	}
	var periodEnd sql.NullTime
	if sub.PeriodEndUnix != 0 {
		periodEnd = sql.NullTime{Time: time.Unix(sub.PeriodEndUnix, 0), Valid: true}
	}
	if err := s.subs.UpsertBase(ctx, company.ID, sub.ID, models.StatusCanceled, periodEnd); err != nil {
		return err
	}
	// History stays; content rows are disabled, not deleted.
	return s.subs.DisableAllForCompany(ctx, company.ID)
}

func (s *ReconcilerService) handleInvoicePaid(ctx context.Context, evt *stripe.Event) error {
	inv, err := evt.Invoice()
	if err != nil {
		return err
	}
	if inv.SubscriptionID == "" {
		s.log.Debug("invoice without subscription, skipping", "invoice_id", inv.ID)
		return nil
	}

	company, err := s.resolveCompany(ctx, inv.SubscriptionID, inv.CustomerID)
	if err != nil {
		return err
	}
	if company == nil {
		return nil
	}
	if err := s.companies.SetStatus(ctx, company.ID, models.StatusActive); err != nil {
		return err
	}
	s.notifyWelcome(ctx, company)
	return nil
}

func (s *ReconcilerService) handleInvoiceFailed(ctx context.Context, evt *stripe.Event) error {
	inv, err := evt.Invoice()
	if err != nil {
		return err
	}
	if inv.SubscriptionID == "" {
		return nil
	}
	company, err := s.companies.FindByStripeSubscriptionID(ctx, inv.SubscriptionID)
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		return nil
	}
	s.log.Warn("invoice payment failed", "company_id", company.ID, "invoice_id", inv.ID)
	var periodEnd sql.NullTime
	return s.subs.UpsertBase(ctx, company.ID, inv.SubscriptionID, models.StatusPastDue, periodEnd)
}

// resolveCompany finds the target company by billing subscription id, then by
// normalized customer email, and finally creates a fresh row. Unique
// constraints on subscription id and email keep concurrent redeliveries from
// producing duplicates. A customer with no email is permanently unresolvable
// and yields (nil, nil): redelivery cannot fix it, so the event gets acked.
func (s *ReconcilerService) resolveCompany(ctx context.Context, subscriptionID, customerID string) (*models.Company, error) {
	company, err := s.companies.FindByStripeSubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("find by subscription: %w", err)
	}
	if company != nil {
		return company, nil
	}

	email := ""
	if customerID != "" {
		customer, err := s.billing.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("resolve customer email: %w", err)
		}
		email = NormalizeEmail(customer.Email)
	}
	if email == "" {
		s.log.Warn("webhook for unresolvable customer",
			"subscription_id", subscriptionID, "customer_id", customerID)
		return nil, nil
	}

	company, err = s.companies.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find by email: %w", err)
	}
	if company != nil {
		return company, nil
	}

	name := "企業_" + strings.SplitN(email, "@", 2)[0]
	created, err := s.companies.Create(ctx, &models.Company{
		Name:                 name,
		Email:                email,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		Status:               models.StatusActive,
		WelcomePending:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	s.log.Info("company created from webhook", "company_id", created.ID, "email", email)
	return created, nil
}

// notifyWelcome pushes the welcome/renewal message when the chat link exists,
// otherwise leaves the pending marker so the first follow event fires it.
func (s *ReconcilerService) notifyWelcome(ctx context.Context, company *models.Company) {
	if company.LineUserID == "" {
		if err := s.companies.SetWelcomePending(ctx, company.ID, true); err != nil {
			s.log.Error("set welcome pending failed", "company_id", company.ID, "err", err)
		}
		return
	}
	if err := s.notifier.SendWelcome(ctx, company.LineUserID); err != nil {
		s.log.Error("welcome notification failed", "company_id", company.ID, "err", err)
		return
	}
	if company.WelcomePending {
		if err := s.companies.SetWelcomePending(ctx, company.ID, false); err != nil {
			s.log.Error("clear welcome pending failed", "company_id", company.ID, "err", err)
		}
	}
}
