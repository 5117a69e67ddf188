/**
 * @description
 * This is the main entry point for the banksync-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the bank provider client, message broker, repository, the core
 * application service, the sync scheduler and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/bankclient: Client for the bank-aggregation provider API.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/pawpass/banksync-service/internal/api"
	"github.com/pawpass/banksync-service/internal/app"
	"github.com/pawpass/banksync-service/internal/config"
	"github.com/pawpass/banksync-service/internal/store"
	"github.com/pawpass/banksync-service/pkg/bankclient"
	rmrabbit "github.com/pawpass/banksync-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env if present; containerized deployments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"auth jwt secret must be configured\" env=AUTH_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting banksync-service\" port=%s provider=%s", cfg.ServerPort, cfg.BankProvider)

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

	// Initialize the RabbitMQ producer to publish events. This service only
	// publishes, so a missing broker degrades to the noop fallback.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.NoopPublisher{}
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		publisher = rabbitProducer
	}

	// Initialize the bank provider client. An unknown provider name is a
	// deployment mistake, not a degradable condition.
	provider, err := bankclient.NewProvider(bankclient.Config{
		Name:          cfg.BankProvider,
		BaseURL:       cfg.GoCardlessAPIBaseURL,
		APIToken:      cfg.GoCardlessAPIToken,
		InstitutionID: cfg.GoCardlessInstitutionID,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"bank provider init failed\" err=%v", err)
	}

	// Redis backs the connection-creation rate limiter. Missing Redis
	// disables limiting rather than blocking boot.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; connection rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; connection rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; connection rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	syncService := app.NewService(
		repository,
		provider,
		cfg.BankProvider,
		publisher,
		cfg.DefaultCurrency,
		time.Duration(cfg.ProviderCallTimeoutSeconds)*time.Second,
	)
	if redisClient != nil {
		syncService.SetConnectionRateLimiter(
			app.NewRedisConnectionRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.ConnectionRateLimitPerMinute,
		)
	}

	// Start the periodic sync scheduler when a cron schedule is configured.
	scheduler := app.NewScheduler(syncService, cfg.SyncCronSchedule)
	if scheduler.Start() {
		defer scheduler.Stop()
		log.Printf("level=info component=bootstrap msg=\"sync scheduler started\" schedule=%q", cfg.SyncCronSchedule)
	}

	// Initialize the API handlers and router.
	handlers := api.NewBankSyncHandlers(syncService)
	router := api.BankSyncRoutes(handlers, cfg.AuthJWTSecret, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
