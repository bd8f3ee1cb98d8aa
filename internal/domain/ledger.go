/**
 * @description
 * This file defines the append-only ledger entry model and the deduction
 * split rule. Every balance change produces exactly one ledger entry per
 * affected credit pool, so the entries for an account always sum to its
 * lifetime net balance change.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger reason codes. Stored verbatim in ledger_entries.reason.
const (
	ReasonCreditPurchase        = "credit_purchase"
	ReasonSubscriptionActivated = "subscription_activated"
	ReasonSubscriptionRenewal   = "subscription_renewal"
	ReasonSubscriptionCanceled  = "subscription_canceled"
	ReasonSubscriptionExpired   = "subscription_expired"
	ReasonImageGeneration       = "image_generation"
)

// LedgerEntry is an immutable audit record of one balance change.
// Entries are append-only: once written they are never mutated or deleted.
type LedgerEntry struct {
	ID         uuid.UUID      `json:"id"`
	AccountID  uuid.UUID      `json:"account_id"`
	Delta      int64          `json:"delta"`
	CreditType CreditType     `json:"credit_type"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DeductionSplit describes how one deduction is divided across the two
// credit pools. Subscription credits are consumed first because they
// expire at the end of the billing cycle.
type DeductionSplit struct {
	FromSubscription int64
	FromPermanent    int64
}

// SplitDeduction computes the portion of amount taken from each pool given
// the current balances. Callers must have already verified that the total
// balance covers the amount.
func SplitDeduction(permanent, subscription, amount int64) DeductionSplit {
	fromSub := amount
	if fromSub > subscription {
		fromSub = subscription
	}
	return DeductionSplit{
		FromSubscription: fromSub,
		FromPermanent:    amount - fromSub,
	}
}
