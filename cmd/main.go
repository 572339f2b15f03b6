/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, message brokers, repositories, the core application
 * service, the payout scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Scheduled payout runs.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
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
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mesa247/ledger-service/internal/api"
	"github.com/mesa247/ledger-service/internal/app"
	"github.com/mesa247/ledger-service/internal/config"
	"github.com/mesa247/ledger-service/internal/store"
	"github.com/mesa247/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing for sustained processor event traffic.
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

	// Initialize the RabbitMQ producer to publish domain events. Publishing
	// is best-effort: a broker outage degrades to the no-op fallback.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	if cfg.IngestRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; ingest rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; ingest rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; ingest rate limiting disabled\" err=%v", pingErr)
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
	ledgerService := app.NewService(repository, producer)
	if redisClient != nil {
		ledgerService.SetIngestRateLimiter(
			app.NewRedisIngestRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.IngestRateLimitPerMinute,
		)
	}

	// Initialize the API handlers and router.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService, cfg.DefaultCurrency)
	router := api.LedgerRoutes(ledgerHandlers)

	// Wire up the queue ingestion path: processor events arriving over AMQP
	// go through the same service logic as the HTTP endpoint.
	eventConsumer := app.NewProcessorEventConsumer(ledgerService)

	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; queue ingestion disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		eventBindings := map[string]rabbitmq.HandlerFunc{
			"processor.event.charge_succeeded": eventConsumer.HandleMessage,
			"processor.event.refund_succeeded": eventConsumer.HandleMessage,
			"processor.event.payout_paid":      eventConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings("processor.events", cfg.ProcessorEventQueue, eventBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"event consumer start failed\" err=%v", err)
		}
		log.Printf("level=info component=bootstrap msg=\"event consumer started\" queue=%s", cfg.ProcessorEventQueue)
	}

	// Scheduled payout generation. An empty schedule disables the cron job;
	// operators can still trigger runs through the HTTP endpoint.
	if strings.TrimSpace(cfg.PayoutRunSchedule) != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.PayoutRunSchedule, func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			asOfDate := time.Now().UTC().Truncate(24 * time.Hour)
			created, err := ledgerService.GeneratePayouts(runCtx, cfg.DefaultCurrency, asOfDate, cfg.PayoutMinAmount)
			if err != nil {
				log.Printf("level=error component=scheduler msg=\"scheduled payout run failed\" err=%v", err)
				return
			}
			log.Printf("level=info component=scheduler msg=\"scheduled payout run finished\" created=%d", created)
		})
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"invalid payout schedule\" schedule=%q err=%v", cfg.PayoutRunSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("level=info component=bootstrap msg=\"payout scheduler started\" schedule=%q", cfg.PayoutRunSchedule)
	}

	// Start the HTTP server.
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
