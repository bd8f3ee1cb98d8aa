/**
 * @description
 * This file defines the normalized billing event model. The API layer parses
 * the raw provider webhook payload into a BillingEvent before any business
 * logic runs, so the app layer never branches on the provider's loosely
 * typed JSON shapes.
 */

package domain

import "time"

// Billing event kinds handled by the webhook processor. Names follow the
// payment provider's event taxonomy.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// BillingReasonSubscriptionCycle marks an invoice raised by an automatic
// subscription renewal, as opposed to the initial purchase invoice.
const BillingReasonSubscriptionCycle = "subscription_cycle"

// PlanType distinguishes one-time credit packs from recurring plans.
type PlanType string

const (
	PlanTypeOneTime      PlanType = "one_time"
	PlanTypeSubscription PlanType = "subscription"
)

// BillingEvent is one verified, normalized notification from the payment
// provider. Exactly one of SessionID / InvoiceID is set depending on the
// event kind; EventID is always set and unique per delivery attempt group.
type BillingEvent struct {
	EventID        string
	Type           string
	SessionID      string
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	AccountID      string // internal account id carried in checkout metadata
	PlanID         string
	PlanType       PlanType
	Credits        int64
	AmountPaid     int64 // in the provider's smallest currency unit
	Currency       string
	BillingReason  string
	AttemptCount   int
	OccurredAt     time.Time
}

// IdempotencyKey returns the external identifier used to deduplicate this
// event's effects. Checkout completions key on the session, invoice events
// on the invoice, and everything else on the delivery's event id.
func (e BillingEvent) IdempotencyKey() string {
	switch e.Type {
	case EventCheckoutSessionCompleted:
		if e.SessionID != "" {
			return e.SessionID
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		if e.InvoiceID != "" {
			return e.InvoiceID
		}
	}
	return e.EventID
}

// SubscriptionPeriod is the provider-reported billing period attached to an
// active subscription.
type SubscriptionPeriod struct {
	Start time.Time
	End   time.Time
}
