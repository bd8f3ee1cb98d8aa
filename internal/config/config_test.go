package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "GENERATION_COST_CREDITS")
	unsetEnvWithCleanup(t, "SUBSCRIPTION_MONTHLY_CREDITS")
	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.GenerationCostCredits != 10 {
		t.Fatalf("expected default generation cost 10, got %d", cfg.GenerationCostCredits)
	}
	if cfg.SubscriptionMonthlyCredits != 500 {
		t.Fatalf("expected default monthly allotment 500, got %d", cfg.SubscriptionMonthlyCredits)
	}
	if cfg.RedisRateLimitPrefix != "billing:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_UsesStripeSecretKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "STRIPE_API_KEY")
	setEnvWithCleanup(t, "STRIPE_SECRET_KEY", "sk_test_alias")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StripeAPIKey != "sk_test_alias" {
		t.Fatalf("expected StripeAPIKey from alias env var, got %q", cfg.StripeAPIKey)
	}
}

func TestLoadConfig_PlatformPortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected platform PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesNonPositiveGenerationCost(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "GENERATION_COST_CREDITS", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GenerationCostCredits != 10 {
		t.Fatalf("expected negative cost coerced to default, got %d", cfg.GenerationCostCredits)
	}
}

func TestAllowedOriginList(t *testing.T) {
	cfg := Config{AllowedOrigins: "https://app.example.com, https://staging.example.com ,"}
	origins := cfg.AllowedOriginList()
	if len(origins) != 2 {
		t.Fatalf("expected two origins, got %v", origins)
	}
	if origins[0] != "https://app.example.com" || origins[1] != "https://staging.example.com" {
		t.Fatalf("unexpected origins: %v", origins)
	}

	if got := (Config{}).AllowedOriginList(); got != nil {
		t.Fatalf("expected nil for empty origins, got %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
