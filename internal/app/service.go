/**
 * @description
 * This file contains the core application service for the billing-service.
 * The `Service` struct owns the user-facing credit operations: balance reads,
 * ledger history, and the spend path for paid image generations. Webhook
 * driven reconciliation lives in the BillingEventProcessor (webhook_processor.go).
 *
 * All collaborators (repository, generation provider, rate limiter) are
 * injected at construction so the service can be exercised in isolation
 * with fakes.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/domain"
	"github.com/lumina/billing-service/internal/store"
)

var (
	ErrPromptRequired     = errors.New("prompt is required")
	ErrInvalidAspectRatio = errors.New("invalid aspect ratio")
	ErrRateLimited        = errors.New("generation rate limit exceeded")
)

// validAspectRatios is the whitelist accepted by the generation provider.
var validAspectRatios = map[string]bool{
	"21:9": true, "16:9": true, "4:3": true, "3:2": true, "1:1": true,
	"2:3": true, "3:4": true, "9:16": true, "9:21": true,
}

// Generator is the external paid-operation capability consumed by the
// spend path. falclient.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
}

// RateLimiter is the distributed limiter applied to generation requests.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the user-facing billing operations.
type Service struct {
	repo           store.Repository
	generator      Generator
	generationCost int64

	rateLimiter              RateLimiter
	generationLimitPerMinute int
}

// NewService creates a new billing service instance.
func NewService(repo store.Repository, generator Generator, generationCost int64) *Service {
	return &Service{
		repo:           repo,
		generator:      generator,
		generationCost: generationCost,
	}
}

// SetGenerationRateLimiter wires an optional distributed rate limiter for
// the generation endpoint. A nil limiter or non-positive limit disables it.
func (s *Service) SetGenerationRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.generationLimitPerMinute = limitPerMinute
}

// GetBalance returns the account's current credit totals.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	return s.repo.GetBalance(ctx, accountID)
}

// GetLedgerHistory returns the account's ledger entries, newest first.
func (s *Service) GetLedgerHistory(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, accountID, limit, offset)
}

// consumeGenerationRateLimit applies the per-account generation limit when
// a limiter is configured. Limiter infrastructure failures are logged and
// treated as allowed so a Redis outage cannot block paid traffic.
func (s *Service) consumeGenerationRateLimit(ctx context.Context, accountID uuid.UUID) error {
	if s.rateLimiter == nil || s.generationLimitPerMinute <= 0 {
		return nil
	}

	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "generation", accountID.String(), s.generationLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=billing_service msg=\"rate limiter unavailable; allowing request\" account_id=%s err=%v", accountID, err)
		return nil
	}
	if count > s.generationLimitPerMinute {
		log.Printf("level=info component=billing_service msg=\"generation rate limited\" account_id=%s count=%d retry_after_s=%d", accountID, count, retryAfter)
		return ErrRateLimited
	}
	return nil
}
