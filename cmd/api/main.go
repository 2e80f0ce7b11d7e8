package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/config"
	"civicguard.org/internal/crisis"
	"civicguard.org/internal/crisislog"
	"civicguard.org/internal/httpapi"
	"civicguard.org/internal/obs"
	"civicguard.org/internal/store/pg"
	"civicguard.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	matrix := auth.DefaultMatrix()
	if cfg.MatrixFile != "" {
		if matrix, err = auth.LoadMatrixFile(cfg.MatrixFile); err != nil {
			log.Fatalf("load permission matrix: %v", err)
		}
	}
	engine := auth.NewEngine(matrix)

	var tokens *auth.Tokens
	if cfg.AuthSecret != "" {
		if tokens, err = auth.NewTokens(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer)); err != nil {
			log.Fatalf("auth tokens: %v", err)
		}
	} else {
		obs.LogJSON("warn", "auth_disabled", map[string]any{"reason": "CIVIC_AUTH_SECRET is empty"})
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Журнал кризисов: Postgres при заданном DSN, иначе в памяти.
	var (
		store crisislog.Store
		ready httpapi.ReadyProbe
		db    *pg.Store
	)
	if cfg.PostgresDSN != "" {
		if db, err = pg.Open(cfg.PostgresDSN); err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = db
		ready = httpapi.ReadyProbe{DB: db.DB()}
	} else {
		obs.LogJSON("warn", "crisis_log_in_memory", map[string]any{"reason": "CIVIC_PG_DSN is empty"})
	}
	crisisLog, err := crisislog.Open(startCtx, store)
	if err != nil {
		log.Fatalf("open crisis log: %v", err)
	}

	events := stream.New()
	health := httpapi.NewGRPCServer(ready)
	opts := []crisis.Option{
		crisis.WithCountdown(cfg.Countdown),
		crisis.WithObserver(events, obs.NewCrisisMetrics(), health),
		crisis.WithLogger(func(msg string, fields map[string]any) {
			obs.LogJSON("error", msg, fields)
		}),
	}
	if cfg.AuthCodesFile != "" {
		book, err := auth.LoadCodeBookFile(cfg.AuthCodesFile)
		if err != nil {
			log.Fatalf("load authorization codes: %v", err)
		}
		opts = append(opts, crisis.WithValidator(
			auth.NewThrottledValidator(book, cfg.CodeAttemptEvery, cfg.CodeAttemptBurst),
		))
	}
	if cfg.DistinctIdentities {
		opts = append(opts, crisis.WithDistinctIdentities())
	}
	machine, err := crisis.New(startCtx, engine, crisisLog, opts...)
	if err != nil {
		log.Fatalf("start crisis machine: %v", err)
	}
	obs.LogJSON("info", "crisis_state_restored", map[string]any{
		"mode":    machine.Mode().String(),
		"entries": crisisLog.Len(),
	})

	// HTTP API
	api, err := httpapi.New(httpapi.Deps{
		Engine:       engine,
		Machine:      machine,
		Tokens:       tokens,
		Stream:       events,
		Ready:        ready,
		Version:      version,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout is left unset so SSE streams stay open.
	}

	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	obs.LogJSON("info", "server_starting", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"mode":      machine.Mode().String(),
	})

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := health.CheckReadiness(probeCtx); err != nil {
				obs.LogJSON("warn", "readiness_failed", map[string]any{"error": err})
			}
			cancel()
		}
	}
	obs.LogJSON("info", "server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	obs.LogJSON("info", "server_stopped", nil)
}
