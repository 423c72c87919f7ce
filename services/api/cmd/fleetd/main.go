package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shreyashguptas/javia-sub000/pkg/bus"
	"github.com/shreyashguptas/javia-sub000/pkg/db"
	"github.com/shreyashguptas/javia-sub000/pkg/pkgsign"
	gos3 "github.com/shreyashguptas/javia-sub000/pkg/s3"
	"github.com/shreyashguptas/javia-sub000/pkg/telemetry"
	"github.com/shreyashguptas/javia-sub000/services/api"
	"github.com/shreyashguptas/javia-sub000/services/registry"
	"github.com/shreyashguptas/javia-sub000/services/scheduler"
)

func main() {
	if err := run("fleetd"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}

	s3Client, err := gos3.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}

	bucket := strings.TrimSpace(os.Getenv("S3_BUCKET"))
	if bucket == "" {
		return errors.New("S3_BUCKET is required")
	}

	var eventBus *bus.Bus
	if natsURL := strings.TrimSpace(os.Getenv("NATS_URL")); natsURL != "" {
		eventBus, err = bus.New(natsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
	} else {
		logger.Printf("WARN NATS_URL not set; fleet events disabled")
	}

	var signer *pkgsign.Signer
	if os.Getenv("AGE_SECRET_KEY") != "" || os.Getenv("AGE_PUBLIC_KEY") != "" {
		signer, err = pkgsign.NewSignerFromEnv()
		if err != nil {
			return fmt.Errorf("init package signer: %w", err)
		}
	} else {
		logger.Printf("WARN package signing keys not set; updates will be unsigned")
	}

	reg, err := registry.New(orm, pool, clock.WallClock)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	sched, err := scheduler.New(orm, pool, s3Client, reg, signer, clock.WallClock, scheduler.Config{
		PackageBucket: bucket,
	})
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	if eventBus != nil {
		monitor, err := scheduler.NewMonitor(reg, eventBus, clock.WallClock, logger)
		if err != nil {
			return fmt.Errorf("init monitor: %w", err)
		}
		if err := monitor.Start(ctx); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		defer monitor.Close()
	}

	apiLayer, err := api.New(reg, sched, eventBus, api.Config{})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	routes, err := apiLayer.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	addr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:    addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(pool interface {
	Ping(context.Context) error
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
