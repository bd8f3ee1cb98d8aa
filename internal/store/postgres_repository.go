/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to accounts, ledger entries, and processed billing events.
 *
 * The account row is the unit of mutual exclusion: every credit mutation runs
 * inside a transaction that locks the account row with FOR UPDATE, so the
 * balance can never go negative even when a webhook grant and a
 * user-initiated debit race on the same account. Ledger entries and processed
 * events are append-only and need no locking beyond their insert's atomicity.
 *
 * @dependencies
 * - context, encoding/json, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumina/billing-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, provider_customer_id, permanent_credits, subscription_credits,
       subscription_status, subscription_plan, subscription_start, subscription_end,
       created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.ProviderCustomerID,
		&account.PermanentCredits,
		&account.SubscriptionCredits,
		&account.SubscriptionStatus,
		&account.SubscriptionPlan,
		&account.SubscriptionStart,
		&account.SubscriptionEnd,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByID retrieves an account from the database by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

// FindAccountByEmail retrieves an account by the email attached to the
// provider's customer record. Used when invoice events only carry a
// provider customer reference.
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(btrim(email)) = lower(btrim($1))`, email))
}

// GetBalance returns the current credit totals for an account. Read-only.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	var balance domain.Balance
	err := r.db.QueryRow(ctx,
		`SELECT permanent_credits, subscription_credits FROM accounts WHERE id = $1`, accountID).
		Scan(&balance.PermanentCredits, &balance.SubscriptionCredits)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// AddCredits atomically increments the named credit pool and appends a
// ledger entry with the positive delta.
func (r *PostgresRepository) AddCredits(ctx context.Context, accountID uuid.UUID, amount int64, creditType domain.CreditType, reason string, metadata map[string]any) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	column := "permanent_credits"
	if creditType == domain.CreditTypeSubscription {
		column = "subscription_credits"
	}

	var balance domain.Balance
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET `+column+` = `+column+` + $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING permanent_credits, subscription_credits`,
		amount, accountID).Scan(&balance.PermanentCredits, &balance.SubscriptionCredits)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if err := insertLedgerEntry(ctx, tx, accountID, amount, creditType, reason, metadata); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &balance, nil
}

// DeductCredits atomically removes amount from the account, consuming
// subscription credits before permanent credits. When the combined balance
// is insufficient it fails with ErrInsufficientCredits and performs no
// mutation at all: no balance change and no ledger entry.
func (r *PostgresRepository) DeductCredits(ctx context.Context, accountID uuid.UUID, amount int64, reason string, metadata map[string]any) (*domain.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var permanent, subscription int64
	// FOR UPDATE locks the row so concurrent deductions on the same account
	// serialize and the check-then-decrement cannot interleave.
	err = tx.QueryRow(ctx,
		`SELECT permanent_credits, subscription_credits FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID).Scan(&permanent, &subscription)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if permanent+subscription < amount {
		return nil, ErrInsufficientCredits
	}

	split := domain.SplitDeduction(permanent, subscription, amount)

	var balance domain.Balance
	err = tx.QueryRow(ctx,
		`UPDATE accounts
		 SET subscription_credits = subscription_credits - $1,
		     permanent_credits = permanent_credits - $2,
		     updated_at = NOW()
		 WHERE id = $3
		 RETURNING permanent_credits, subscription_credits`,
		split.FromSubscription, split.FromPermanent, accountID).
		Scan(&balance.PermanentCredits, &balance.SubscriptionCredits)
	if err != nil {
		return nil, err
	}

	if split.FromSubscription > 0 {
		if err := insertLedgerEntry(ctx, tx, accountID, -split.FromSubscription, domain.CreditTypeSubscription, reason, metadata); err != nil {
			return nil, err
		}
	}
	if split.FromPermanent > 0 {
		if err := insertLedgerEntry(ctx, tx, accountID, -split.FromPermanent, domain.CreditTypePermanent, reason, metadata); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ZeroSubscriptionCredits clears the subscription pool inside one
// transaction and records the zeroed amount for traceability. The audit
// entry is written even when the pool was already empty.
func (r *PostgresRepository) ZeroSubscriptionCredits(ctx context.Context, accountID uuid.UUID, reason string, metadata map[string]any) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var zeroed int64
	err = tx.QueryRow(ctx,
		`SELECT subscription_credits FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&zeroed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET subscription_credits = 0, updated_at = NOW() WHERE id = $1`, accountID); err != nil {
		return 0, err
	}

	if err := insertLedgerEntry(ctx, tx, accountID, -zeroed, domain.CreditTypeSubscription, reason, metadata); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return zeroed, nil
}

// UpdateSubscription persists the result of a subscription state machine
// transition. Nil plan/start/end leave the existing values in place.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, accountID uuid.UUID, params UpdateSubscriptionParams) error {
	result, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET subscription_status = $1,
		     subscription_plan = COALESCE($2, subscription_plan),
		     subscription_start = COALESCE($3, subscription_start),
		     subscription_end = COALESCE($4, subscription_end),
		     updated_at = NOW()
		 WHERE id = $5`,
		params.Status, params.Plan, params.Start, params.End, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClaimEvent inserts the external event id into processed_events. The
// unique constraint on event_id makes insert-if-absent atomic: exactly one
// of any number of concurrent claims observes RowsAffected == 1.
func (r *PostgresRepository) ClaimEvent(ctx context.Context, externalEventID, eventType string) (bool, error) {
	result, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		externalEventID, eventType)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListLedgerEntries returns the account's ledger history, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, delta, credit_type, reason, metadata, created_at
		 FROM ledger_entries
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		var rawMetadata []byte
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Delta, &entry.CreditType, &entry.Reason, &rawMetadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &entry.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, creditType domain.CreditType, reason string, metadata map[string]any) error {
	var rawMetadata []byte
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		rawMetadata = encoded
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, delta, credit_type, reason, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		uuid.New(), accountID, delta, creditType, reason, rawMetadata)
	return err
}
