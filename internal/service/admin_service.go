package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/models"
)

// AdminService backs the operator HTTP endpoints: company inspection, manual
// onboarding and a reconciliation trigger for stuck deferred charges.
type AdminService struct {
	cfg       config.Config
	log       *slog.Logger
	companies CompanyStore
	usage     UsageStore
	ledger    *LedgerService
	billing   BillingClient
}

func NewAdminService(cfg config.Config, log *slog.Logger, companies CompanyStore, usage UsageStore, ledger *LedgerService, billingClient BillingClient) *AdminService {
	return &AdminService{
		cfg:       cfg,
		log:       log,
		companies: companies,
		usage:     usage,
		ledger:    ledger,
		billing:   billingClient,
	}
}

func (s *AdminService) ListCompanies(ctx context.Context) ([]models.Company, error) {
	return s.companies.List(ctx)
}

// OnboardCompany provisions a company manually: billing customer, trialing
// base subscription, local row. The creation webhook that follows is
// absorbed idempotently by the reconciler.
func (s *AdminService) OnboardCompany(ctx context.Context, name, email string) (*models.Company, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email")
	}
	if name == "" {
		name = "企業_" + strings.SplitN(email, "@", 2)[0]
	}

	existing, err := s.companies.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	if existing != nil {
		return nil, ErrCompanyExists
	}

	customer, err := s.billing.CreateCustomer(ctx, email, name)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	sub, err := s.billing.CreateSubscription(ctx, customer.ID, s.cfg.StripeBasePriceID, s.cfg.TrialDays)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	company, err := s.companies.Create(ctx, &models.Company{
		Name:                 name,
		Email:                email,
		StripeCustomerID:     customer.ID,
		StripeSubscriptionID: sub.ID,
		Status:               models.StatusActive,
		WelcomePending:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	s.log.Info("company onboarded", "company_id", company.ID, "email", email)
	return company, nil
}

// CompanyUsage returns the full ledger for one company, oldest first.
func (s *AdminService) CompanyUsage(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	return s.usage.ListByCompany(ctx, companyID)
}

// ForceReconcile pulls the live subscription and bills any deferred charges
// whose trial has ended. Used when a webhook was missed.
func (s *AdminService) ForceReconcile(ctx context.Context, companyID int64) (*ReconcileResult, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		return nil, ErrCompanyNotFound
	}
	if company.StripeSubscriptionID == "" {
		return nil, ErrSubscriptionInactive
	}

	sub, err := s.billing.GetSubscription(ctx, company.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	result, err := s.ledger.ReconcilePending(ctx, company, sub)
	if err != nil {
		return nil, err
	}
	s.log.Info("manual reconcile", "company_id", companyID, "charged", len(result.Charged), "degraded", result.Degraded)
	return result, nil
}
