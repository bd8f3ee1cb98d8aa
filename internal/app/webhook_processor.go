/**
 * @description
 * This file contains the reconciliation logic for externally delivered
 * billing events. The processor claims each event's idempotency key before
 * touching the ledger, so at-least-once webhook delivery collapses to
 * at-most-one effect per event.
 *
 * Failure policy: anything that goes wrong after a successful claim is
 * logged and absorbed, never retried internally. Redelivery by the provider
 * is the only retry mechanism, and the claim already neutralizes it. This
 * trades strict internal consistency for protection against retry storms.
 *
 * @dependencies
 * - context, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID parsing.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/stripeclient: For event publishing and provider lookups.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/domain"
	"github.com/lumina/billing-service/internal/store"
	"github.com/lumina/billing-service/pkg/rabbitmq"
	"github.com/lumina/billing-service/pkg/stripeclient"
)

// BillingEventsExchange is the RabbitMQ exchange internal billing events
// are published to.
const BillingEventsExchange = "billing_events"

// fallbackPeriodDays is the assumed subscription length when the provider
// cannot report the real billing period.
const fallbackPeriodDays = 30

// BillingEventProcessor applies verified billing events to the credit
// ledger and the subscription state machine, exactly once per event.
type BillingEventProcessor struct {
	repo           store.Repository
	billing        stripeclient.BillingAPI
	producer       rabbitmq.Publisher
	monthlyCredits int64

	now func() time.Time
}

// NewBillingEventProcessor creates a processor. monthlyCredits is the
// subscription plan's per-cycle credit allotment.
func NewBillingEventProcessor(repo store.Repository, billing stripeclient.BillingAPI, producer rabbitmq.Publisher, monthlyCredits int64) *BillingEventProcessor {
	return &BillingEventProcessor{
		repo:           repo,
		billing:        billing,
		producer:       producer,
		monthlyCredits: monthlyCredits,
		now:            time.Now,
	}
}

// ProcessEvent handles one verified billing event. A non-nil error means
// the event could not even be claimed (persistence failure); the caller
// still acknowledges the delivery either way. Duplicates and unhandled
// event types return nil.
func (p *BillingEventProcessor) ProcessEvent(ctx context.Context, event domain.BillingEvent) error {
	switch event.Type {
	case domain.EventCheckoutSessionCompleted:
		return p.withClaim(ctx, event, p.handleCheckoutCompleted)
	case domain.EventInvoicePaymentSucceeded:
		if event.BillingReason != domain.BillingReasonSubscriptionCycle {
			log.Printf("level=info component=billing_processor msg=\"ignoring non-renewal invoice\" event_id=%s billing_reason=%s", event.EventID, event.BillingReason)
			return nil
		}
		return p.withClaim(ctx, event, p.handleRenewal)
	case domain.EventSubscriptionDeleted:
		return p.withClaim(ctx, event, p.handleCancellation)
	case domain.EventInvoicePaymentFailed:
		// Retries of the same invoice share one invoice id, so the claim
		// must not happen until the failure count crosses the threshold.
		if event.AttemptCount < domain.PaymentFailureExpiryThreshold {
			log.Printf("level=info component=billing_processor msg=\"payment failure below expiry threshold\" event_id=%s attempt=%d", event.EventID, event.AttemptCount)
			return nil
		}
		return p.withClaim(ctx, event, p.handleFinalPaymentFailure)
	default:
		log.Printf("level=info component=billing_processor msg=\"unhandled event type\" event_id=%s type=%s", event.EventID, event.Type)
		return nil
	}
}

// withClaim runs handle only if this process wins the claim on the event's
// idempotency key. Handler errors are absorbed: the event counts as
// processed once claimed.
func (p *BillingEventProcessor) withClaim(ctx context.Context, event domain.BillingEvent, handle func(context.Context, domain.BillingEvent) error) error {
	key := event.IdempotencyKey()
	claimed, err := p.repo.ClaimEvent(ctx, key, event.Type)
	if err != nil {
		return fmt.Errorf("failed to claim event %s: %w", key, err)
	}
	if !claimed {
		log.Printf("level=info component=billing_processor msg=\"duplicate event ignored\" event_id=%s key=%s type=%s", event.EventID, key, event.Type)
		return nil
	}

	if err := handle(ctx, event); err != nil {
		log.Printf("level=error component=billing_processor msg=\"processing failed after claim; absorbed\" event_id=%s key=%s type=%s err=%v", event.EventID, key, event.Type, err)
	}
	return nil
}

// handleCheckoutCompleted credits a completed one-time purchase or initial
// subscription payment, and activates the subscription for recurring plans.
func (p *BillingEventProcessor) handleCheckoutCompleted(ctx context.Context, event domain.BillingEvent) error {
	accountID, err := uuid.Parse(event.AccountID)
	if err != nil {
		return fmt.Errorf("checkout session %s carries no valid account id: %w", event.SessionID, err)
	}
	if event.Credits <= 0 {
		return fmt.Errorf("checkout session %s carries no credit amount", event.SessionID)
	}

	creditType := domain.CreditTypePermanent
	reason := domain.ReasonCreditPurchase
	if event.PlanType == domain.PlanTypeSubscription {
		creditType = domain.CreditTypeSubscription
		reason = domain.ReasonSubscriptionActivated
	}

	metadata := map[string]any{
		"session_id": event.SessionID,
		"plan_id":    event.PlanID,
		"amount":     event.AmountPaid,
		"currency":   event.Currency,
		"source":     "webhook",
	}

	if _, err := p.repo.AddCredits(ctx, accountID, event.Credits, creditType, reason, metadata); err != nil {
		return fmt.Errorf("failed to add credits for session %s: %w", event.SessionID, err)
	}

	if event.PlanType == domain.PlanTypeSubscription {
		period := p.resolvePeriod(ctx, event.SubscriptionID)
		plan := event.PlanID
		if err := p.repo.UpdateSubscription(ctx, accountID, store.UpdateSubscriptionParams{
			Status: domain.SubscriptionActive,
			Plan:   &plan,
			Start:  &period.Start,
			End:    &period.End,
		}); err != nil {
			return fmt.Errorf("failed to activate subscription for account %s: %w", accountID, err)
		}
		p.publishSubscription(ctx, accountID, domain.SubscriptionActive, event)
	}

	p.publishCredit(ctx, accountID, event.Credits, creditType, reason, event)
	log.Printf("level=info component=billing_processor msg=\"credits granted\" account_id=%s credits=%d credit_type=%s session_id=%s", accountID, event.Credits, creditType, event.SessionID)
	return nil
}

// handleRenewal grants the monthly allotment for a subscription cycle
// invoice and refreshes the active period.
func (p *BillingEventProcessor) handleRenewal(ctx context.Context, event domain.BillingEvent) error {
	account, err := p.resolveAccountByCustomer(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to resolve account for invoice %s: %w", event.InvoiceID, err)
	}

	metadata := map[string]any{
		"invoice_id": event.InvoiceID,
		"amount":     event.AmountPaid,
		"currency":   event.Currency,
		"source":     "webhook",
	}

	if _, err := p.repo.AddCredits(ctx, account.ID, p.monthlyCredits, domain.CreditTypeSubscription, domain.ReasonSubscriptionRenewal, metadata); err != nil {
		return fmt.Errorf("failed to add renewal credits for account %s: %w", account.ID, err)
	}

	if next, ok := domain.NextSubscriptionStatus(account.SubscriptionStatus, domain.TransitionRenew); ok {
		period := p.resolvePeriod(ctx, event.SubscriptionID)
		if err := p.repo.UpdateSubscription(ctx, account.ID, store.UpdateSubscriptionParams{
			Status: next,
			Start:  &period.Start,
			End:    &period.End,
		}); err != nil {
			return fmt.Errorf("failed to refresh subscription period for account %s: %w", account.ID, err)
		}
	} else {
		log.Printf("level=warn component=billing_processor msg=\"renewal for non-active subscription; period not refreshed\" account_id=%s status=%s invoice_id=%s", account.ID, account.SubscriptionStatus, event.InvoiceID)
	}

	p.publishCredit(ctx, account.ID, p.monthlyCredits, domain.CreditTypeSubscription, domain.ReasonSubscriptionRenewal, event)
	log.Printf("level=info component=billing_processor msg=\"renewal credits granted\" account_id=%s credits=%d invoice_id=%s", account.ID, p.monthlyCredits, event.InvoiceID)
	return nil
}

// handleCancellation zeroes subscription credits and moves the state
// machine to Canceled.
func (p *BillingEventProcessor) handleCancellation(ctx context.Context, event domain.BillingEvent) error {
	account, err := p.resolveAccountByCustomer(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to resolve account for subscription %s: %w", event.SubscriptionID, err)
	}

	next, ok := domain.NextSubscriptionStatus(account.SubscriptionStatus, domain.TransitionCancel)
	if !ok {
		log.Printf("level=info component=billing_processor msg=\"cancellation is a no-op\" account_id=%s status=%s", account.ID, account.SubscriptionStatus)
		return nil
	}

	return p.closeSubscription(ctx, account, next, domain.ReasonSubscriptionCanceled, event)
}

// handleFinalPaymentFailure expires the subscription after the configured
// number of consecutive failed payment attempts.
func (p *BillingEventProcessor) handleFinalPaymentFailure(ctx context.Context, event domain.BillingEvent) error {
	account, err := p.resolveAccountByCustomer(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to resolve account for invoice %s: %w", event.InvoiceID, err)
	}

	next, ok := domain.NextSubscriptionStatus(account.SubscriptionStatus, domain.TransitionExpire)
	if !ok {
		log.Printf("level=info component=billing_processor msg=\"expiry is a no-op\" account_id=%s status=%s", account.ID, account.SubscriptionStatus)
		return nil
	}

	return p.closeSubscription(ctx, account, next, domain.ReasonSubscriptionExpired, event)
}

// closeSubscription is the shared zero-out path for cancellation and expiry.
func (p *BillingEventProcessor) closeSubscription(ctx context.Context, account *domain.Account, next domain.SubscriptionStatus, reason string, event domain.BillingEvent) error {
	metadata := map[string]any{
		"subscription_id": event.SubscriptionID,
		"event_id":        event.EventID,
		"source":          "webhook",
	}

	zeroed, err := p.repo.ZeroSubscriptionCredits(ctx, account.ID, reason, metadata)
	if err != nil {
		return fmt.Errorf("failed to zero subscription credits for account %s: %w", account.ID, err)
	}

	endedAt := p.now().UTC()
	if err := p.repo.UpdateSubscription(ctx, account.ID, store.UpdateSubscriptionParams{
		Status: next,
		End:    &endedAt,
	}); err != nil {
		return fmt.Errorf("failed to update subscription status for account %s: %w", account.ID, err)
	}

	p.publishSubscription(ctx, account.ID, next, event)
	log.Printf("level=info component=billing_processor msg=\"subscription closed\" account_id=%s status=%s zeroed_credits=%d", account.ID, next, zeroed)
	return nil
}

// resolveAccountByCustomer maps a provider customer id to an internal
// account through the customer's email, the way invoice and subscription
// events identify users.
func (p *BillingEventProcessor) resolveAccountByCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	if customerID == "" {
		return nil, fmt.Errorf("event carries no customer id")
	}
	email, err := p.billing.GetCustomerEmail(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer lookup failed for %s: %w", customerID, err)
	}
	return p.repo.FindAccountByEmail(ctx, email)
}

// resolvePeriod fetches the provider-reported billing period. When the
// lookup fails the period degrades to a 30-day window from now; the real
// bounds arrive with the next renewal event.
func (p *BillingEventProcessor) resolvePeriod(ctx context.Context, subscriptionID string) domain.SubscriptionPeriod {
	if subscriptionID != "" {
		if period, err := p.billing.GetSubscriptionPeriod(ctx, subscriptionID); err == nil {
			return *period
		} else {
			log.Printf("level=warn component=billing_processor msg=\"subscription period lookup failed; using 30-day fallback\" subscription_id=%s err=%v", subscriptionID, err)
		}
	}
	start := p.now().UTC()
	return domain.SubscriptionPeriod{
		Start: start,
		End:   start.AddDate(0, 0, fallbackPeriodDays),
	}
}

func (p *BillingEventProcessor) publishCredit(ctx context.Context, accountID uuid.UUID, delta int64, creditType domain.CreditType, reason string, event domain.BillingEvent) {
	if p.producer == nil {
		return
	}
	payload := rabbitmq.CreditEvent{
		AccountID:  accountID,
		Delta:      delta,
		CreditType: string(creditType),
		Reason:     reason,
		EventID:    event.EventID,
		Timestamp:  p.now().UTC(),
	}
	if err := p.producer.Publish(ctx, BillingEventsExchange, "billing.credits.granted", payload); err != nil {
		log.Printf("level=warn component=billing_processor msg=\"credit event publish failed\" account_id=%s err=%v", accountID, err)
	}
}

func (p *BillingEventProcessor) publishSubscription(ctx context.Context, accountID uuid.UUID, status domain.SubscriptionStatus, event domain.BillingEvent) {
	if p.producer == nil {
		return
	}
	payload := rabbitmq.SubscriptionEvent{
		AccountID: accountID,
		Status:    string(status),
		Plan:      event.PlanID,
		EventID:   event.EventID,
		Timestamp: p.now().UTC(),
	}
	if err := p.producer.Publish(ctx, BillingEventsExchange, "billing.subscription."+string(status), payload); err != nil {
		log.Printf("level=warn component=billing_processor msg=\"subscription event publish failed\" account_id=%s err=%v", accountID, err)
	}
}
