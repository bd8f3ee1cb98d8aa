/**
 * @description
 * This file implements the spend path: the coordination of "pre-check
 * balance, invoke the paid external operation, debit only on success".
 * The ordering is the service's core fairness guarantee: an account is
 * never charged for a generation that failed or timed out.
 *
 * Known gap: a crash between the provider's success and the debit commit
 * would lose the charge. There is no compensating outbox here; the window
 * is accepted and the provider call is logged with the account id so the
 * case is at least diagnosable.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/domain"
	"github.com/lumina/billing-service/internal/store"
)

// PaidOperation is one external call that costs credits on success.
type PaidOperation func(ctx context.Context) (*domain.GenerationResult, error)

// Spend runs one paid operation against an account:
//  1. balance pre-check; insufficient credits fail before any side effect
//  2. invoke the operation
//  3. on success, commit the debit and return the result with the new balance
//  4. on error, return the error with no deduction
//
// The pre-check is advisory (a concurrent spend may still win the race);
// the debit itself re-checks under the account row lock, so the balance
// can never go negative.
func (s *Service) Spend(ctx context.Context, accountID uuid.UUID, cost int64, reason string, metadata map[string]any, operation PaidOperation) (*domain.SpendResult, error) {
	balance, err := s.repo.GetBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance.Total() < cost {
		return nil, store.ErrInsufficientCredits
	}

	result, err := operation(ctx)
	if err != nil {
		// Failed or timed-out operation: no deduction, ever.
		return nil, err
	}

	newBalance, err := s.repo.DeductCredits(ctx, accountID, cost, reason, metadata)
	if err != nil {
		// The paid side effect succeeded but the debit did not commit.
		// The artifact is still returned: discarding paid work is worse
		// than losing the charge. There is no compensating retry here.
		log.Printf("level=error component=spend msg=\"CRITICAL: debit failed after successful paid operation\" account_id=%s cost=%d err=%v", accountID, cost, err)
		return &domain.SpendResult{Result: result, CreditsSpent: cost, NewBalance: *balance}, nil
	}

	return &domain.SpendResult{Result: result, CreditsSpent: cost, NewBalance: *newBalance}, nil
}

// GenerateImage is the concrete paid operation: validate the request,
// apply the per-account rate limit, and spend the configured generation
// cost against the text-to-image provider.
func (s *Service) GenerateImage(ctx context.Context, accountID uuid.UUID, req domain.GenerationRequest) (*domain.SpendResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrPromptRequired
	}
	if req.AspectRatio != "" && !validAspectRatios[req.AspectRatio] {
		return nil, ErrInvalidAspectRatio
	}

	if err := s.consumeGenerationRateLimit(ctx, accountID); err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"action":       "text_to_image",
		"prompt":       truncate(req.Prompt, 100),
		"num_images":   req.NumImages,
		"aspect_ratio": req.AspectRatio,
	}

	return s.Spend(ctx, accountID, s.generationCost, domain.ReasonImageGeneration, metadata, func(ctx context.Context) (*domain.GenerationResult, error) {
		return s.generator.Generate(ctx, req)
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
