package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/domain"
	"github.com/lumina/billing-service/internal/store"
)

type spendRepoStub struct {
	store.Repository

	balance domain.Balance

	deductCalled bool
	deductAmount int64
	deductReason string
	deductErr    error

	ledgerDeltas []int64
}

func (s *spendRepoStub) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	balance := s.balance
	return &balance, nil
}

func (s *spendRepoStub) DeductCredits(ctx context.Context, accountID uuid.UUID, amount int64, reason string, metadata map[string]any) (*domain.Balance, error) {
	s.deductCalled = true
	s.deductAmount = amount
	s.deductReason = reason
	if s.deductErr != nil {
		return nil, s.deductErr
	}

	split := domain.SplitDeduction(s.balance.PermanentCredits, s.balance.SubscriptionCredits, amount)
	if split.FromSubscription > 0 {
		s.ledgerDeltas = append(s.ledgerDeltas, -split.FromSubscription)
	}
	if split.FromPermanent > 0 {
		s.ledgerDeltas = append(s.ledgerDeltas, -split.FromPermanent)
	}
	s.balance.SubscriptionCredits -= split.FromSubscription
	s.balance.PermanentCredits -= split.FromPermanent
	balance := s.balance
	return &balance, nil
}

type generatorStub struct {
	result *domain.GenerationResult
	err    error
	called bool
}

func (g *generatorStub) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	g.called = true
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestSpend_ProviderFailureDoesNotDeduct(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 10}}
	generator := &generatorStub{err: errors.New("provider unavailable")}
	service := NewService(repo, generator, 10)

	_, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "a red fox"})
	if err == nil {
		t.Fatal("expected provider error to propagate")
	}
	if repo.deductCalled {
		t.Fatal("expected no deduction after a failed generation")
	}
	if repo.balance.PermanentCredits != 10 {
		t.Fatalf("expected balance unchanged at 10, got %d", repo.balance.PermanentCredits)
	}
	if len(repo.ledgerDeltas) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(repo.ledgerDeltas))
	}
}

func TestSpend_SuccessDeductsExactlyOnce(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 10}}
	generator := &generatorStub{result: &domain.GenerationResult{
		Images: []domain.GeneratedImage{{URL: "https://cdn/out.jpg"}},
	}}
	service := NewService(repo, generator, 10)

	result, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !repo.deductCalled || repo.deductAmount != 10 {
		t.Fatalf("expected one deduction of 10, called=%t amount=%d", repo.deductCalled, repo.deductAmount)
	}
	if result.NewBalance.Total() != 0 {
		t.Fatalf("expected zero balance after spend, got %d", result.NewBalance.Total())
	}
	if len(repo.ledgerDeltas) != 1 || repo.ledgerDeltas[0] != -10 {
		t.Fatalf("expected exactly one ledger entry with delta -10, got %v", repo.ledgerDeltas)
	}
	if len(result.Result.Images) != 1 {
		t.Fatalf("expected the generated artifact to be returned, got %d images", len(result.Result.Images))
	}
}

func TestSpend_InsufficientCreditsFailsBeforeProviderCall(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 5}}
	generator := &generatorStub{result: &domain.GenerationResult{}}
	service := NewService(repo, generator, 10)

	_, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "a red fox"})
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if generator.called {
		t.Fatal("expected the paid operation not to run on insufficient credits")
	}
	if repo.deductCalled {
		t.Fatal("expected no deduction attempt on insufficient credits")
	}
}

func TestSpend_SubscriptionCreditsConsumedFirst(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 8, SubscriptionCredits: 4}}
	generator := &generatorStub{result: &domain.GenerationResult{
		Images: []domain.GeneratedImage{{URL: "https://cdn/out.jpg"}},
	}}
	service := NewService(repo, generator, 10)

	result, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.NewBalance.SubscriptionCredits != 0 {
		t.Fatalf("expected subscription pool drained first, got %d", result.NewBalance.SubscriptionCredits)
	}
	if result.NewBalance.PermanentCredits != 2 {
		t.Fatalf("expected 2 permanent credits remaining, got %d", result.NewBalance.PermanentCredits)
	}
	if len(repo.ledgerDeltas) != 2 {
		t.Fatalf("expected one ledger entry per affected pool, got %v", repo.ledgerDeltas)
	}
}

func TestGenerateImage_ValidatesRequest(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 100}}
	generator := &generatorStub{}
	service := NewService(repo, generator, 10)

	if _, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "   "}); !errors.Is(err, ErrPromptRequired) {
		t.Fatalf("expected ErrPromptRequired, got %v", err)
	}
	if _, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "fox", AspectRatio: "5:7"}); !errors.Is(err, ErrInvalidAspectRatio) {
		t.Fatalf("expected ErrInvalidAspectRatio, got %v", err)
	}
	if generator.called {
		t.Fatal("expected no provider call for invalid requests")
	}
}

type rateLimiterStub struct {
	count int
	err   error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return r.count, 30, r.err
}

func TestGenerateImage_RateLimited(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 100}}
	generator := &generatorStub{}
	service := NewService(repo, generator, 10)
	service.SetGenerationRateLimiter(&rateLimiterStub{count: 11}, 10)

	_, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "fox"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if generator.called {
		t.Fatal("expected no provider call when rate limited")
	}
}

func TestGenerateImage_LimiterOutageAllowsRequest(t *testing.T) {
	repo := &spendRepoStub{balance: domain.Balance{PermanentCredits: 100}}
	generator := &generatorStub{result: &domain.GenerationResult{
		Images: []domain.GeneratedImage{{URL: "https://cdn/out.jpg"}},
	}}
	service := NewService(repo, generator, 10)
	service.SetGenerationRateLimiter(&rateLimiterStub{err: errors.New("redis down")}, 10)

	if _, err := service.GenerateImage(context.Background(), uuid.New(), domain.GenerationRequest{Prompt: "fox"}); err != nil {
		t.Fatalf("expected limiter outage to fail open, got %v", err)
	}
}
