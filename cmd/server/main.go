package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentchess/arena-engine/internal/arena"
	"github.com/agentchess/arena-engine/internal/brain"
	"github.com/agentchess/arena-engine/internal/metrics"
	"github.com/agentchess/arena-engine/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Pacing ---
	cfg := arena.DefaultConfig()
	if v := os.Getenv("BETTING_WINDOW"); v != "" {
		cfg.BettingWindow = mustDuration("BETTING_WINDOW", v)
	}
	if v := os.Getenv("MIN_MOVE_INTERVAL"); v != "" {
		cfg.MinMoveInterval = mustDuration("MIN_MOVE_INTERVAL", v)
	}
	if v := os.Getenv("MAX_PLIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			slog.Error("invalid MAX_PLIES", "value", v)
			os.Exit(1)
		}
		cfg.MaxPlies = n
	}

	// --- WebSocket hub ---
	wsHub := arena.NewWSHub()
	go wsHub.Run()

	// --- Arena service ---
	svc := arena.NewService(st, brain.New(), quartz.NewReal(), cfg, wsHub)

	// --- Sweep scheduler ---
	// Drives autonomous play: opens expired betting windows and advances
	// every live match by at most one move per tick.
	sweepEvery := 5 * time.Second
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		sweepEvery = mustDuration("SWEEP_INTERVAL", v)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		slog.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepEvery)
			defer cancel()
			svc.SweepDue(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		slog.Error("sweep job registration failed", "err", err)
		os.Exit(1)
	}
	scheduler.Start()
	cleanup = append(cleanup, func() { _ = scheduler.Shutdown() })
	slog.Info("sweep scheduler started", "interval", sweepEvery)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"arena-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live match and betting updates.
		r.Get("/ws", wsHub.HandleWS)

		// Agent management.
		r.Get("/agents", svc.HandleListAgents)
		r.Post("/agents", svc.HandleCreateAgent)
		r.Get("/agents/{agentID}", svc.HandleGetAgent)
		r.Post("/agents/{agentID}/train", svc.HandleTrainAgent)
		r.Post("/agents/{agentID}/find-opponent", svc.HandleFindOpponent)

		// Match lifecycle.
		r.Get("/matches", svc.HandleListMatches)
		r.Post("/matches", svc.HandleCreateMatch)
		r.Get("/matches/{matchID}", svc.HandleGetMatch)
		r.Post("/matches/{matchID}/advance", svc.HandleAdvanceMatch)
		r.Post("/matches/{matchID}/start", svc.HandleStartMatch)
		r.Post("/matches/{matchID}/cancel", svc.HandleCancelMatch)

		// Betting.
		r.Post("/matches/{matchID}/bets", svc.HandlePlaceBet)
		r.Get("/matches/{matchID}/bets", svc.HandleListBets)
		r.Get("/matches/{matchID}/odds", svc.HandleGetOdds)

		// Position analysis.
		r.Post("/decide", svc.HandleDecide)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("arena-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down arena-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("arena-engine stopped")
}

func mustDuration(name, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Error("invalid duration", "var", name, "value", v)
		os.Exit(1)
	}
	return d
}
