package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"rifas-backend/internal/allocation"
	"rifas-backend/internal/auth"
	"rifas-backend/internal/checkout"
	checkout_api "rifas-backend/internal/checkout/api"
	"rifas-backend/internal/config"
	"rifas-backend/internal/kafka"
	"rifas-backend/internal/ledger"
	"rifas-backend/internal/logger"
	"rifas-backend/internal/payment/epayco"
	"rifas-backend/internal/receipt"
	"rifas-backend/internal/settlement"
	settlement_api "rifas-backend/internal/settlement/api"
	ticket_db "rifas-backend/internal/tickets/db"
	"rifas-backend/internal/tickets/ticket_api"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Rifas Backend initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer producer.Close()
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		requiredTopics := []string{
			cfg.Kafka.Topics.PaymentApproved,
			cfg.Kafka.Topics.PaymentRejected,
			cfg.Kafka.Topics.NumbersAssigned,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, settlement events will not be published")
	}

	ticketStore := &ticket_db.DB{
		Bun:          bunDB,
		AllowedSizes: cfg.Raffle.AllowedSizes,
		PageSize:     cfg.Raffle.FetchPageSize,
	}
	ledgerStore := &ledger.DB{Bun: bunDB}
	engine := allocation.NewEngine(ticketStore, logger, cfg.Raffle.MinQuantity, cfg.Raffle.MaxQuantity, cfg.Raffle.AllocationRetries)
	gateway := epayco.NewClient(cfg.EPayco, logger)

	machine := &settlement.Machine{
		Ledger:  ledgerStore,
		Engine:  engine,
		Tickets: ticketStore,
		Gateway: gateway,
		Claims:  settlement.NewRedisClaims(redisClient, cfg.Redis.ClaimTTL),
		Logger:  logger,
		Topics:  cfg.Kafka.Topics,
	}
	if producer != nil {
		machine.Events = producer
	}

	checkoutService := &checkout.Service{
		Ledger:  ledgerStore,
		Tickets: ticketStore,
		Buyers:  &checkout.Buyers{Bun: bunDB},
		Gateway: gateway,
		Logger:  logger,
		Raffle:  cfg.Raffle,
		EPayco:  cfg.EPayco,
	}

	checkoutHandler := checkout_api.NewHandler(checkoutService, receipt.NewGenerator(), logger)
	webhookHandler := settlement_api.NewHandler(machine, logger)
	ticketHandler := ticket_api.NewHandler(ticketStore, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	// The gateway does not authenticate; the confirmation webhook must stay
	// outside the auth group.
	r.Post("/api/pagos/confirmacion", webhookHandler.Confirmation)
	r.Get("/api/pagos/{referencia}", checkoutHandler.GetPayment)
	r.Get("/api/rifas/{rifaID}/numeros/disponibles", ticketHandler.AvailableCount)
	logger.Info("ROUTER", "Public webhook, status poll and availability endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		logger.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/pagos", func(r chi.Router) {
				r.Post("/", checkoutHandler.CreatePayment)
				r.Get("/{referencia}/recibo", checkoutHandler.GetReceipt)
			})
			logger.Info("ROUTER", "Payment routes registered under /api/pagos")

			r.Route("/rifas/{rifaID}", func(r chi.Router) {
				r.Post("/numeros/generar", ticketHandler.GeneratePool)
				r.Get("/mis-numeros", checkoutHandler.MyNumbers)
			})
			logger.Info("ROUTER", "Raffle routes registered under /api/rifas")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Rifas Backend running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Rifas Backend shutdown complete")
	}
}
