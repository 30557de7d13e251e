package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/aicollect/internal/billing"
	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/repository"
	"github.com/digkill/aicollect/internal/stripe"
)

// LedgerService owns the append-only usage log and the charge timing rules
// around it: first item free, later items priced, charges deferred while the
// base subscription is still trialing.
type LedgerService struct {
	cfg     config.Config
	log     *slog.Logger
	usage   UsageStore
	subs    SubscriptionStore
	billing BillingClient
}

func NewLedgerService(cfg config.Config, log *slog.Logger, usage UsageStore, subs SubscriptionStore, billingClient BillingClient) *LedgerService {
	return &LedgerService{
		cfg:     cfg,
		log:     log,
		usage:   usage,
		subs:    subs,
		billing: billingClient,
	}
}

// AddResult reports one confirmed content addition. Degraded means the local
// ledger write committed but the provider charge did not go through and will
// be reconciled out of band.
type AddResult struct {
	Entry       models.UsageLogEntry
	Position    int
	Price       billing.Price
	Deferred    bool
	Degraded    bool
	Reactivated bool
}

// AddContent appends a confirmed addition for the company. sub must be the
// live subscription read from the provider, not a cached local status.
func (s *LedgerService) AddContent(ctx context.Context, company *models.Company, sub *stripe.Subscription, label string) (*AddResult, error) {
	if sub.Status != models.StatusActive && sub.Status != models.StatusTrialing {
		return nil, ErrSubscriptionInactive
	}

	existing, err := s.usage.FindByLabel(ctx, company.ID, label)
	if err != nil {
		return nil, fmt.Errorf("check existing entry: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyAdded
	}

	count, err := s.usage.CountByCompany(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	position := count + 1
	price := billing.PriceForPosition(position, s.cfg.AdditionalItemPrice)
	trialing := sub.Status == models.StatusTrialing

	entry := models.UsageLogEntry{
		CompanyID:     company.ID,
		ContentLabel:  label,
		IsFree:        price.Free,
		PendingCharge: !price.Free && trialing,
	}

	result := &AddResult{Position: position, Price: price, Deferred: entry.PendingCharge}

	if err := s.usage.Insert(ctx, &entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// Lost the race against a concurrent confirmation for the same
			// label; the unique key is the authority.
			return nil, ErrAlreadyAdded
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := s.upsertContentRow(ctx, company, sub, label, result); err != nil {
		// The ledger row is the source of truth; a stale content row only
		// affects the status display.
		s.log.Error("content subscription upsert failed", "company_id", company.ID, "label", label, "err", err)
	}

	// Charge after the local commit. Provider failure keeps the entry and
	// reports degraded success; billing is reconciled out of band.
	if !price.Free && !trialing {
		periodEnd, _ := sub.CurrentPeriodEnd()
		item, err := s.billing.CreateInvoiceItem(ctx, stripe.InvoiceItemParams{
			CustomerID:     company.StripeCustomerID,
			AmountMinor:    price.AmountMinor,
			Currency:       s.cfg.PaymentCurrency,
			Description:    fmt.Sprintf("追加コンテンツ: %s", label),
			SubscriptionID: company.StripeSubscriptionID,
			PeriodStart:    time.Now(),
			PeriodEnd:      periodEnd,
		})
		if err != nil {
			s.log.Error("invoice item creation failed", "company_id", company.ID, "label", label, "err", err)
			result.Degraded = true
		} else {
			entry.StripeInvoiceItemID = item.ID
			if err := s.usage.SetInvoiceItem(ctx, entry.ID, item.ID); err != nil {
				s.log.Error("record invoice item failed", "company_id", company.ID, "label", label, "err", err)
			}
		}
	}

	result.Entry = entry
	return result, nil
}

func (s *LedgerService) upsertContentRow(ctx context.Context, company *models.Company, sub *stripe.Subscription, label string, result *AddResult) error {
	var periodEnd *time.Time
	if end, ok := sub.CurrentPeriodEnd(); ok {
		periodEnd = &end
	}

	row, err := s.subs.FindByLabel(ctx, company.ID, label)
	if err != nil {
		return err
	}
	if row == nil {
		return s.subs.CreateContent(ctx, company.ID, label, company.StripeSubscriptionID, periodEnd)
	}
	if row.Status != models.StatusActive {
		result.Reactivated = true
		return s.subs.Reactivate(ctx, row.ID, periodEnd)
	}
	return nil
}

// RemoveContent deletes the ledger entry for a confirmed per-content cancel.
// No provider call: an already-created invoice item settles through the
// provider's normal period-end proration.
func (s *LedgerService) RemoveContent(ctx context.Context, company *models.Company, label string) error {
	entry, err := s.usage.FindByLabel(ctx, company.ID, label)
	if err != nil {
		return fmt.Errorf("find entry: %w", err)
	}
	if entry == nil {
		return ErrContentNotFound
	}
	if err := s.usage.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	row, err := s.subs.FindByLabel(ctx, company.ID, label)
	if err != nil {
		s.log.Error("content row lookup failed", "company_id", company.ID, "label", label, "err", err)
		return nil
	}
	if row != nil && row.Status == models.StatusActive {
		if err := s.subs.SetStatus(ctx, row.ID, models.StatusInactive); err != nil {
			s.log.Error("content row disable failed", "company_id", company.ID, "label", label, "err", err)
		}
	}
	return nil
}

// ReconcileResult lists entries whose deferred charge was billed during a
// lazy trial-transition check.
type ReconcileResult struct {
	Charged  []models.UsageLogEntry
	Degraded bool
}

// ReconcilePending bills outstanding pending_charge entries once the base
// subscription has left trial. Each entry is re-checked (MarkCharged only
// succeeds while the flag is still set) so redelivered webhooks or concurrent
// status checks never double-bill.
func (s *LedgerService) ReconcilePending(ctx context.Context, company *models.Company, sub *stripe.Subscription) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	if sub.Status == models.StatusTrialing {
		return result, nil
	}

	pending, err := s.usage.ListPending(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	if len(pending) == 0 {
		return result, nil
	}

	trialEnd, ok := sub.TrialEnd()
	if !ok && company.TrialEnd != nil {
		trialEnd, ok = *company.TrialEnd, true
	}
	if !ok {
		// No recorded trial boundary; anchor the period at now so the
		// provider accepts it.
		trialEnd = time.Now()
	}
	periodStart, periodEnd := billing.NextBillingPeriod(trialEnd)

	for _, entry := range pending {
		item, err := s.billing.CreateInvoiceItem(ctx, stripe.InvoiceItemParams{
			CustomerID:     company.StripeCustomerID,
			AmountMinor:    s.cfg.AdditionalItemPrice,
			Currency:       s.cfg.PaymentCurrency,
			Description:    fmt.Sprintf("追加コンテンツ: %s", entry.ContentLabel),
			SubscriptionID: company.StripeSubscriptionID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
		})
		if err != nil {
			s.log.Error("deferred charge failed", "company_id", company.ID, "label", entry.ContentLabel, "err", err)
			result.Degraded = true
			continue
		}
		cleared, err := s.usage.MarkCharged(ctx, entry.ID, item.ID)
		if err != nil {
			return result, fmt.Errorf("mark entry charged: %w", err)
		}
		if cleared {
			entry.PendingCharge = false
			entry.StripeInvoiceItemID = item.ID
			result.Charged = append(result.Charged, entry)
		}
	}
	return result, nil
}

// GraceResult splits a cancellation walk-back into voided pending charges and
// purged older entries.
type GraceResult struct {
	Reverted []string
	Purged   []string
}

// CancelGrace applies the grace-window rule on whole-subscription
// cancellation: pending charges younger than the window are voided in place,
// entries older than the window are deleted outright.
func (s *LedgerService) CancelGrace(ctx context.Context, companyID int64, windowDays int) (*GraceResult, error) {
	entries, err := s.usage.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -windowDays)
	result := &GraceResult{}
	for _, entry := range entries {
		if entry.CreatedAt.Before(cutoff) {
			if err := s.usage.Delete(ctx, entry.ID); err != nil {
				return nil, fmt.Errorf("purge entry: %w", err)
			}
			result.Purged = append(result.Purged, entry.ContentLabel)
			continue
		}
		if entry.PendingCharge {
			if err := s.usage.ClearPending(ctx, entry.ID); err != nil {
				return nil, fmt.Errorf("revert pending charge: %w", err)
			}
			result.Reverted = append(result.Reverted, entry.ContentLabel)
		}
	}
	return result, nil
}

// CancelBase cancels the company's base subscription at period end and walks
// back recent pending charges. The company's local status flips only when the
// provider's deletion webhook confirms.
func (s *LedgerService) CancelBase(ctx context.Context, company *models.Company) (*GraceResult, error) {
	if company.StripeSubscriptionID == "" {
		return nil, ErrSubscriptionInactive
	}
	if _, err := s.billing.CancelSubscription(ctx, company.StripeSubscriptionID, true); err != nil {
		return nil, fmt.Errorf("cancel base subscription: %w", err)
	}
	return s.CancelGrace(ctx, company.ID, s.cfg.CancelGraceDays)
}
