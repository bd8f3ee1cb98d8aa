/**
 * @description
 * This file defines the core domain models for the billing-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Credit amounts are stored as `int64` whole credits. A credit is the unit
 *   of entitlement consumed by one paid generation.
 * - Permanent and subscription credits are tracked separately because
 *   subscription credits expire with the billing cycle and must be spent
 *   before permanent credits.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditType distinguishes the two pools of credits an account can hold.
type CreditType string

const (
	CreditTypePermanent    CreditType = "permanent"
	CreditTypeSubscription CreditType = "subscription"
)

// SubscriptionStatus is the lifecycle state of an account's recurring subscription.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Account represents a billable user account. It maps to the `accounts` table.
// Accounts are created at signup by the auth surface; this service only
// mutates the credit and subscription fields.
type Account struct {
	ID                  uuid.UUID          `json:"id"`
	Email               string             `json:"email"`
	ProviderCustomerID  *string            `json:"provider_customer_id,omitempty"`
	PermanentCredits    int64              `json:"permanent_credits"`
	SubscriptionCredits int64              `json:"subscription_credits"`
	SubscriptionStatus  SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan    *string            `json:"subscription_plan,omitempty"`
	SubscriptionStart   *time.Time         `json:"subscription_start,omitempty"`
	SubscriptionEnd     *time.Time         `json:"subscription_end,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Balance is the pair of credit totals returned by ledger operations.
type Balance struct {
	PermanentCredits    int64 `json:"permanent_credits"`
	SubscriptionCredits int64 `json:"subscription_credits"`
}

// Total returns the combined spendable credits.
func (b Balance) Total() int64 {
	return b.PermanentCredits + b.SubscriptionCredits
}
