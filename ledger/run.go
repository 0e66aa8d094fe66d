// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"veralex/platform/ledger/checkpoint"
	"veralex/platform/ledger/estimate"
	"veralex/platform/ledger/job"
	"veralex/platform/ledger/meter"
	"veralex/platform/ledger/reservation"
)

// Service holds the wired components of the ledger service.
type Service struct {
	ledger       *reservation.Manager
	orchestrator *job.Orchestrator
	usage        meter.Meter
	db           *sql.DB
}

// Run wires the service from environment configuration and serves HTTP
// until the process exits.
func Run() {
	log.Println("Starting Veralex Ledger...")

	svc, err := initService()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	if svc.db != nil {
		defer svc.db.Close()
	}

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/health", svc.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	reservation.NewHandler(svc.ledger).RegisterRoutes(r)
	job.NewHandler(svc.orchestrator).RegisterRoutes(r)

	handler := c.Handler(r)
	if secret := os.Getenv("API_JWT_SECRET"); secret != "" {
		handler = authMiddleware([]byte(secret))(handler)
		log.Println("API authentication enabled")
	} else {
		log.Println("WARNING: API_JWT_SECRET not set, API is unauthenticated")
	}

	port := getEnv("PORT", "8080")
	log.Printf("Veralex Ledger listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func initService() (*Service, error) {
	var (
		db             *sql.DB
		ledgerRepo     reservation.Repository
		jobRepo        job.Repository
		checkpointRepo checkpoint.Repository
	)

	dbURL := databaseURL()
	if dbURL != "" {
		var err error
		db, err = openDatabase(dbURL)
		if err != nil {
			return nil, err
		}
		if err := runMigrations(db); err != nil {
			return nil, err
		}
		ledgerRepo = reservation.NewPostgresRepository(db)
		jobRepo = job.NewPostgresRepository(db)
		checkpointRepo = checkpoint.NewPostgresRepository(db)
		log.Println("Using PostgreSQL storage")
	} else {
		ledgerRepo = reservation.NewMemoryRepository()
		jobRepo = job.NewMemoryRepository()
		checkpointRepo = checkpoint.NewMemoryRepository()
		log.Println("WARNING: DATABASE_URL not set, using in-memory storage (data is lost on restart)")
	}

	usage := initMeter()
	ledger := reservation.NewManager(ledgerRepo)

	pricing, err := initPricing()
	if err != nil {
		return nil, err
	}
	estimator, err := estimate.NewEstimator(pricing, envInt64("SAFETY_MARGIN_BPS", estimate.DefaultMarginBps))
	if err != nil {
		return nil, fmt.Errorf("invalid safety margin: %w", err)
	}

	executor := job.NewHTTPExecutor(
		getEnv("EXECUTOR_URL", "http://localhost:8090"),
		os.Getenv("EXECUTOR_TOKEN"),
		time.Duration(envInt64("EXECUTOR_TIMEOUT_SECONDS", 120))*time.Second,
	)

	orchestrator := job.NewOrchestrator(jobRepo, checkpointRepo, ledger, usage, estimator, executor, job.Config{
		MarkupBps:    envInt64("MARKUP_BPS", 10000),
		CeilingBps:   envInt64("USAGE_CEILING_BPS", 30000),
		StageTimeout: time.Duration(envInt64("STAGE_TIMEOUT_SECONDS", 600)) * time.Second,
	})

	recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	recovered, err := orchestrator.RecoverStale(recoverCtx)
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		log.Printf("Recovered %d jobs left running by a previous process", recovered)
	}

	return &Service{
		ledger:       ledger,
		orchestrator: orchestrator,
		usage:        usage,
		db:           db,
	}, nil
}

// databaseURL builds the connection string from separate env vars,
// falling back to DATABASE_URL.
func databaseURL() string {
	dbHost := os.Getenv("DATABASE_HOST")
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbHost == "" || dbPassword == "" {
		return os.Getenv("DATABASE_URL")
	}

	dbPort := getEnv("DATABASE_PORT", "5432")
	dbName := getEnv("DATABASE_NAME", "veralex")
	dbUser := getEnv("DATABASE_USER", "veralex_app")
	dbSSLMode := getEnv("DATABASE_SSLMODE", "require")

	// URL-encode credentials to handle special characters in URI format
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(dbUser), url.QueryEscape(dbPassword), dbHost, dbPort, dbName, dbSSLMode)
}

func openDatabase(dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Retry: the database container may still be starting.
	var pingErr error
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			log.Printf("Connected to database (attempt %d)", attempt)
			return db, nil
		}
		log.Printf("Database not ready (attempt %d/5): %v", attempt, pingErr)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to database: %w", pingErr)
}

// initMeter prefers Redis so the usage ceiling holds across instances;
// without Redis it falls back to a per-process meter.
func initMeter() meter.Meter {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Println("WARNING: REDIS_URL not set, using in-memory usage meter (single instance only)")
		return meter.NewMemoryMeter()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("WARNING: invalid REDIS_URL, using in-memory usage meter: %v", err)
		return meter.NewMemoryMeter()
	}

	rm, err := meter.NewRedisMeter(redis.NewClient(opts))
	if err != nil {
		log.Printf("WARNING: Redis unavailable, using in-memory usage meter: %v", err)
		return meter.NewMemoryMeter()
	}
	log.Println("Redis usage meter connected")
	return rm
}

func initPricing() (*estimate.PricingTable, error) {
	path := os.Getenv("PRICING_FILE")
	if path == "" {
		return estimate.NewPricingTable(), nil
	}
	table, err := estimate.LoadPricingFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing file %s: %w", path, err)
	}
	log.Printf("Loaded pricing from %s", path)
	return table, nil
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.ledger.IsHealthy(r.Context()) {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "veralex-ledger",
		"time":    time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %d", key, v, defaultValue)
		return defaultValue
	}
	return parsed
}
