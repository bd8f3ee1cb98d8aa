/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/falclient, pkg/stripeclient: Clients for the generation and payment providers.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumina/billing-service/internal/api"
	"github.com/lumina/billing-service/internal/app"
	"github.com/lumina/billing-service/internal/config"
	"github.com/lumina/billing-service/internal/store"
	"github.com/lumina/billing-service/pkg/falclient"
	rmrabbit "github.com/lumina/billing-service/pkg/rabbitmq"
	"github.com/lumina/billing-service/pkg/stripeclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=STRIPE_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish internal billing events.
	// The broker is optional: webhook processing must not depend on it.
	var producer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; event publishing disabled\" env=RABBITMQ_URL")
		producer = &rmrabbit.EventProducerFallback{}
	} else if rabbitProducer, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment provider client used for subscription period and
	// customer lookups during webhook processing.
	stripeClient := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeAPIKey)

	// Initialize the image generation provider client.
	falClient := falclient.NewClient(cfg.FalAPIBaseURL, cfg.FalAPIKey, time.Duration(cfg.FalTimeoutSeconds)*time.Second)
	if strings.TrimSpace(cfg.FalModel) != "" {
		falClient.Model = cfg.FalModel
	}

	// Optional Redis client for generation rate limiting.
	var redisClient *redis.Client
	if cfg.GenerationRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; generation rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; generation rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; generation rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	billingService := app.NewService(repository, falClient, cfg.GenerationCostCredits)
	if redisClient != nil {
		billingService.SetGenerationRateLimiter(
			app.NewRedisGenerationRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.GenerationRateLimitPerMinute,
		)
	}

	// Initialize the webhook event processor.
	processor := app.NewBillingEventProcessor(repository, stripeClient, producer, cfg.SubscriptionMonthlyCredits)

	// Initialize the API handlers.
	billingHandlers := api.NewBillingHandlers(billingService)
	webhookHandler := api.NewWebhookHandler(processor, cfg.StripeWebhookSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.BillingRoutes(billingHandlers, webhookHandler, cfg.AuthJWKSURL, cfg.AllowedOriginList()))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server failed\" err=%v", err)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=http msg=\"shutting down server\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"graceful shutdown failed\" err=%v", err)
	}
	log.Println("level=info component=http msg=\"server stopped\"")
}
