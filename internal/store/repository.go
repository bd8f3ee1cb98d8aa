/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account lookup methods. Accounts are created by the auth surface at
	// signup; this service only reads and mutates billing fields.
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)

	// Credit ledger methods. Both mutations are atomic with respect to any
	// other concurrent mutation on the same account row, and each appends
	// one ledger entry per affected credit pool.
	AddCredits(ctx context.Context, accountID uuid.UUID, amount int64, creditType domain.CreditType, reason string, metadata map[string]any) (*domain.Balance, error)
	DeductCredits(ctx context.Context, accountID uuid.UUID, amount int64, reason string, metadata map[string]any) (*domain.Balance, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error)
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)

	// ZeroSubscriptionCredits sets the subscription pool to zero and records
	// the zeroed amount in an audit ledger entry. Returns the amount removed
	// (zero when the pool was already empty, which still writes the entry
	// for traceability).
	ZeroSubscriptionCredits(ctx context.Context, accountID uuid.UUID, reason string, metadata map[string]any) (int64, error)

	// Subscription lifecycle methods.
	UpdateSubscription(ctx context.Context, accountID uuid.UUID, params UpdateSubscriptionParams) error

	// ClaimEvent attempts to record an external event id as processed.
	// It returns true exactly once per id: the first claim wins, every
	// later or concurrent claim of the same id returns false.
	ClaimEvent(ctx context.Context, externalEventID, eventType string) (bool, error)
}

// UpdateSubscriptionParams carries the subscription fields to persist after
// a state machine transition. Nil pointers leave the column untouched.
type UpdateSubscriptionParams struct {
	Status domain.SubscriptionStatus
	Plan   *string
	Start  *time.Time
	End    *time.Time
}
