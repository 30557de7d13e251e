package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/aicollect/internal/billing"
	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/line"
	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/service"
	"github.com/digkill/aicollect/internal/stripe"
)

// Sender is the outbound chat surface; implemented by the line client.
type Sender interface {
	Reply(ctx context.Context, replyToken string, messages []line.Message) error
	Push(ctx context.Context, userID string, messages []line.Message) error
}

// Engine drives the per-user chat dialogue: command classification, the
// multi-turn add/cancel flows and their durable step state. It also
// implements the out-of-band welcome notification used by the webhook
// reconciler.
type Engine struct {
	cfg       config.Config
	log       *slog.Logger
	sender    Sender
	companies service.CompanyStore
	states    service.StateStore
	usage     service.UsageStore
	ledger    *service.LedgerService
	billing   service.BillingClient
}

func NewEngine(cfg config.Config, log *slog.Logger, sender Sender, companies service.CompanyStore, states service.StateStore, usage service.UsageStore, ledger *service.LedgerService, billingClient service.BillingClient) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log,
		sender:    sender,
		companies: companies,
		states:    states,
		usage:     usage,
		ledger:    ledger,
		billing:   billingClient,
	}
}

// SendWelcome pushes the welcome sequence and resets the user's step. It is
// the service.Notifier implementation handed to the webhook reconciler.
func (e *Engine) SendWelcome(ctx context.Context, lineUserID string) error {
	if err := e.sender.Push(ctx, lineUserID, welcomeMessages()); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	if err := e.states.Set(ctx, lineUserID, models.StepWelcomeSent); err != nil {
		e.log.Error("set welcome step failed", "line_user_id", lineUserID, "err", err)
	}
	return nil
}

// HandleEvent processes one inbound chat event. Errors are returned only for
// infrastructure failures; user-level problems are answered in chat.
func (e *Engine) HandleEvent(ctx context.Context, evt line.Event) error {
	switch evt.Type {
	case line.EventFollow:
		return e.handleFollow(ctx, evt)
	case line.EventUnfollow:
		return e.handleUnfollow(ctx, evt)
	case line.EventMessage:
		if evt.Message.Type != "text" {
			return nil
		}
		return e.handleMessage(ctx, evt)
	case line.EventPostback:
		return e.handlePostback(ctx, evt)
	default:
		return nil
	}
}

// handleFollow links the chat user to their company and fires any welcome
// held back because the link did not exist when the subscription was created.
func (e *Engine) handleFollow(ctx context.Context, evt line.Event) error {
	userID := evt.Source.UserID
	company, err := e.companies.FindByLineUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}

	if company == nil {
		// Claim the oldest company still waiting for its chat link. With a
		// single operator channel this is the signup that just completed.
		company, err = e.companies.FindOldestUnlinkedPending(ctx)
		if err != nil {
			return fmt.Errorf("find pending company: %w", err)
		}
		if company == nil {
			e.respond(ctx, evt, notRegisteredMessage())
			return nil
		}
		if err := e.companies.LinkLineUser(ctx, company.ID, userID); err != nil {
			return fmt.Errorf("link chat user: %w", err)
		}
		e.log.Info("chat user linked", "company_id", company.ID)
	}

	if company.WelcomePending {
		if err := e.companies.SetWelcomePending(ctx, company.ID, false); err != nil {
			e.log.Error("clear welcome pending failed", "company_id", company.ID, "err", err)
		}
	}
	e.respond(ctx, evt, welcomeMessages()...)
	return e.states.Set(ctx, userID, models.StepWelcomeSent)
}

func (e *Engine) handleUnfollow(ctx context.Context, evt line.Event) error {
	userID := evt.Source.UserID
	if err := e.states.Clear(ctx, userID); err != nil {
		e.log.Error("clear step failed", "line_user_id", userID, "err", err)
	}
	// Drop the link; a later re-follow re-links through the pending flow.
	return e.companies.UnlinkLineUser(ctx, userID)
}

func (e *Engine) handleMessage(ctx context.Context, evt line.Event) error {
	company, err := e.companies.FindByLineUserID(ctx, evt.Source.UserID)
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		e.respond(ctx, evt, notRegisteredMessage())
		return nil
	}

	// Commands always win over the current step so users can bail out of a
	// half-finished flow.
	switch Classify(evt.Message.Text) {
	case IntentMenu:
		e.respond(ctx, evt, menuMessage())
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	case IntentHelp:
		e.respond(ctx, evt, helpMessage(e.cfg.BasePriceMinorUnits, e.cfg.AdditionalItemPrice))
		return nil
	case IntentAdd:
		return e.startAddFlow(ctx, evt, company)
	case IntentStatus:
		return e.showStatus(ctx, evt, company)
	case IntentCancelMenu:
		e.respond(ctx, evt, cancelMenuMessage())
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	case IntentCancelContent:
		return e.startCancelFlow(ctx, evt, company)
	case IntentCancelSubscription:
		e.respond(ctx, evt, subscriptionCancelConfirmMessage())
		return nil
	}

	step, err := e.states.Get(ctx, evt.Source.UserID)
	if err != nil {
		return fmt.Errorf("load step: %w", err)
	}
	switch step {
	case models.StepAddSelect:
		return e.handleAddSelection(ctx, evt, company)
	case models.StepCancelSelect:
		return e.handleCancelSelection(ctx, evt, company)
	default:
		e.respond(ctx, evt, menuMessage())
		return nil
	}
}

// startAddFlow verifies the subscription against the provider before showing
// the catalog; local status alone can be stale after a missed webhook.
func (e *Engine) startAddFlow(ctx context.Context, evt line.Event, company *models.Company) error {
	sub, err := e.liveSubscription(ctx, company)
	if err != nil {
		e.respond(ctx, evt, subscriptionInactiveMessage())
		return nil
	}
	if sub.Status != models.StatusActive && sub.Status != models.StatusTrialing {
		e.respond(ctx, evt, subscriptionInactiveMessage())
		return nil
	}
	e.respond(ctx, evt, addSelectMessage(e.cfg.AdditionalItemPrice))
	return e.states.Set(ctx, evt.Source.UserID, models.StepAddSelect)
}

func (e *Engine) handleAddSelection(ctx context.Context, evt line.Event, company *models.Company) error {
	selections, ok := ParseSelection(evt.Message.Text, len(ContentCatalog))
	if !ok {
		e.respond(ctx, evt, line.NewTextMessage(
			fmt.Sprintf("1〜%d の番号で選択してください。", len(ContentCatalog))))
		return nil
	}
	if len(selections) != 1 {
		e.respond(ctx, evt, line.NewTextMessage("番号を1つだけ選択してください。"))
		return nil
	}
	selection := selections[0]
	label := ContentCatalog[selection-1]

	count, err := e.usage.CountByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	price := billing.PriceForPosition(count+1, e.cfg.AdditionalItemPrice)
	trialing := company.TrialEnd != nil && time.Now().Before(*company.TrialEnd)
	e.respond(ctx, evt, addConfirmMessage(selection, label, price.Free, price.AmountMinor, trialing))
	return nil
}

func (e *Engine) startCancelFlow(ctx context.Context, evt line.Event, company *models.Company) error {
	entries, err := e.usage.ListByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		e.respond(ctx, evt, line.NewTextMessage("解約できるコンテンツがありません。"))
		return nil
	}
	e.respond(ctx, evt, cancelSelectMessage(entries))
	return e.states.Set(ctx, evt.Source.UserID, models.StepCancelSelect)
}

func (e *Engine) handleCancelSelection(ctx context.Context, evt line.Event, company *models.Company) error {
	entries, err := e.usage.ListByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	selections, ok := ParseSelection(evt.Message.Text, len(entries))
	if !ok {
		e.respond(ctx, evt, line.NewTextMessage(
			fmt.Sprintf("1〜%d の番号で選択してください。", len(entries))))
		return nil
	}
	if len(selections) != 1 {
		e.respond(ctx, evt, line.NewTextMessage("番号を1つだけ選択してください。"))
		return nil
	}
	selection := selections[0]
	e.respond(ctx, evt, cancelConfirmMessage(selection, entries[selection-1].ContentLabel))
	// Persist the choice so the confirmation postback survives a restart.
	return e.states.Set(ctx, evt.Source.UserID, models.CancelConfirmStep(selection))
}

func (e *Engine) handlePostback(ctx context.Context, evt line.Event) error {
	company, err := e.companies.FindByLineUserID(ctx, evt.Source.UserID)
	if err != nil {
		return fmt.Errorf("find company: %w", err)
	}
	if company == nil {
		e.respond(ctx, evt, notRegisteredMessage())
		return nil
	}

	data := evt.Postback.Data
	switch {
	case strings.HasPrefix(data, postbackConfirmAddPrefix):
		selection, err := strconv.Atoi(strings.TrimPrefix(data, postbackConfirmAddPrefix))
		if err != nil || selection < 1 || selection > len(ContentCatalog) {
			e.respond(ctx, evt, menuMessage())
			return nil
		}
		return e.confirmAdd(ctx, evt, company, ContentCatalog[selection-1])
	case data == postbackAbortAdd, data == postbackAbortCancel:
		e.respond(ctx, evt, line.NewTextMessage("操作を取り消しました。"), menuMessage())
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	case data == postbackConfirmCancelSub:
		return e.confirmCancelSubscription(ctx, evt, company)
	case strings.HasPrefix(data, postbackConfirmCancelPrefix):
		selection, err := strconv.Atoi(strings.TrimPrefix(data, postbackConfirmCancelPrefix))
		if err != nil || selection < 1 {
			e.respond(ctx, evt, menuMessage())
			return nil
		}
		return e.confirmCancelContent(ctx, evt, company, selection)
	default:
		e.respond(ctx, evt, menuMessage())
		return nil
	}
}

func (e *Engine) confirmAdd(ctx context.Context, evt line.Event, company *models.Company, label string) error {
	sub, err := e.liveSubscription(ctx, company)
	if err != nil {
		e.respond(ctx, evt, subscriptionInactiveMessage())
		return nil
	}

	result, err := e.ledger.AddContent(ctx, company, sub, label)
	switch {
	case errors.Is(err, service.ErrAlreadyAdded):
		e.respond(ctx, evt, line.NewTextMessage(fmt.Sprintf("「%s」はすでに追加済みです。", label)))
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	case errors.Is(err, service.ErrSubscriptionInactive):
		e.respond(ctx, evt, subscriptionInactiveMessage())
		return nil
	case err != nil:
		return fmt.Errorf("add content: %w", err)
	}

	e.respond(ctx, evt, addedMessage(label, result.Price.Free, result.Deferred, result.Reactivated))
	return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
}

func (e *Engine) confirmCancelContent(ctx context.Context, evt line.Event, company *models.Company, selection int) error {
	// The stored step must carry the same selection; otherwise the button
	// belongs to a stale confirmation whose list may have changed.
	step, err := e.states.Get(ctx, evt.Source.UserID)
	if err != nil {
		return fmt.Errorf("load step: %w", err)
	}
	stored, ok := step.CancelConfirmSelection()
	if !ok || stored != selection {
		e.respond(ctx, evt, line.NewTextMessage("操作の有効期限が切れました。もう一度お試しください。"), menuMessage())
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	}

	entries, err := e.usage.ListByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if selection > len(entries) {
		e.respond(ctx, evt, line.NewTextMessage("操作の有効期限が切れました。もう一度お試しください。"), menuMessage())
		return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
	}
	label := entries[selection-1].ContentLabel

	if err := e.ledger.RemoveContent(ctx, company, label); err != nil {
		if errors.Is(err, service.ErrContentNotFound) {
			e.respond(ctx, evt, line.NewTextMessage("対象のコンテンツが見つかりませんでした。"), menuMessage())
			return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
		}
		return fmt.Errorf("remove content: %w", err)
	}

	e.respond(ctx, evt, line.NewTextMessage(fmt.Sprintf("「%s」を解約しました。", label)))
	return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
}

func (e *Engine) confirmCancelSubscription(ctx context.Context, evt line.Event, company *models.Company) error {
	result, err := e.ledger.CancelBase(ctx, company)
	if err != nil {
		if errors.Is(err, service.ErrSubscriptionInactive) {
			e.respond(ctx, evt, subscriptionInactiveMessage())
			return nil
		}
		return fmt.Errorf("cancel subscription: %w", err)
	}

	var b strings.Builder
	b.WriteString("サブスクリプションの解約を受け付けました。\n")
	b.WriteString("ご契約は現在の請求期間の終了時まで有効です。")
	if len(result.Reverted) > 0 {
		b.WriteString(fmt.Sprintf("\n未請求のコンテンツ %d件 の請求は取り消されました。", len(result.Reverted)))
	}
	e.respond(ctx, evt, line.NewTextMessage(b.String()))
	return e.states.Set(ctx, evt.Source.UserID, models.StepWelcomeSent)
}

// showStatus first settles any deferred charges whose trial has ended, then
// renders the ledger. The settle-on-read keeps billing correct even when the
// trial-end webhook was missed.
func (e *Engine) showStatus(ctx context.Context, evt line.Event, company *models.Company) error {
	if company.StripeSubscriptionID != "" {
		sub, err := e.liveSubscription(ctx, company)
		if err == nil {
			if _, err := e.ledger.ReconcilePending(ctx, company, sub); err != nil {
				e.log.Error("status reconcile failed", "company_id", company.ID, "err", err)
			}
		}
	}

	entries, err := e.usage.ListByCompany(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	paid := 0
	for _, entry := range entries {
		if !entry.IsFree {
			paid++
		}
	}
	total := billing.MonthlyTotal(e.cfg.BasePriceMinorUnits, e.cfg.AdditionalItemPrice, paid)
	e.respond(ctx, evt, statusMessage(company, entries, e.cfg.BasePriceMinorUnits, e.cfg.AdditionalItemPrice, total))
	return nil
}

func (e *Engine) liveSubscription(ctx context.Context, company *models.Company) (*stripe.Subscription, error) {
	if company.StripeSubscriptionID == "" {
		return nil, service.ErrSubscriptionInactive
	}
	sub, err := e.billing.GetSubscription(ctx, company.StripeSubscriptionID)
	if err != nil {
		e.log.Error("live subscription fetch failed", "company_id", company.ID, "err", err)
		return nil, err
	}
	return sub, nil
}

// respond answers via the reply token and falls back to push when the token
// is already spent or expired. The token is never retried.
func (e *Engine) respond(ctx context.Context, evt line.Event, messages ...line.Message) {
	if evt.ReplyToken != "" {
		err := e.sender.Reply(ctx, evt.ReplyToken, messages)
		if err == nil {
			return
		}
		e.log.Warn("reply failed, falling back to push", "err", err)
	}
	if evt.Source.UserID == "" {
		return
	}
	if err := e.sender.Push(ctx, evt.Source.UserID, messages); err != nil {
		e.log.Error("push failed", "line_user_id", evt.Source.UserID, "err", err)
	}
}
