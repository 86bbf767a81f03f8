package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"contentflow/internal/api"
	"contentflow/internal/clock"
	"contentflow/internal/config"
	"contentflow/internal/conflict"
	"contentflow/internal/domain"
	"contentflow/internal/handlers/webhook"
	"contentflow/internal/lifecycle"
	"contentflow/internal/metrics"
	"contentflow/internal/ratelimit"
	"contentflow/internal/recurrence"
	"contentflow/internal/scheduler"
	"contentflow/internal/store"
	"contentflow/internal/worker"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP bind address")
		dbPath  = flag.String("db", "contentflow.db", "SQLite DB path")
		cfgPath = flag.String("config", "", "YAML config path (defaults when empty)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewSQLite(db)
	clk := clock.System{}

	if n, err := st.RecoverStale(context.Background(), clk.Now(), 3*cfg.TaskTimeout); err == nil && n > 0 {
		log.Info().Int("recovered", n).Msg("recovered stale running tasks")
	}

	limiter := ratelimit.New(cfg.Platforms)
	detector := conflict.NewDetector(st, limiter, clk, cfg)
	lc := lifecycle.New(clk, lifecycle.NewRetryPolicy(cfg.Retry))
	expander := recurrence.NewExpander()
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	svc := scheduler.NewService(st, detector, lc, expander, clk, collector, cfg)

	handlers := make(map[domain.EntityType]worker.Handler, len(cfg.Handlers))
	for entityType, endpoint := range cfg.Handlers {
		handlers[entityType] = webhook.New(endpoint, cfg.TaskTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := worker.NewLoop(st, lc, limiter, expander, clk, handlers, collector, cfg)
	go loop.Run(ctx)

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(svc)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
