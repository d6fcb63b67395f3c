package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"leadmailer/internal/adapters/email"
	"leadmailer/internal/adapters/events"
	web "leadmailer/internal/adapters/http"
	"leadmailer/internal/adapters/http/perf"
	"leadmailer/internal/adapters/storage"
	auditStore "leadmailer/internal/adapters/storage/audit"
	dispatchStore "leadmailer/internal/adapters/storage/dispatch"
	leadStore "leadmailer/internal/adapters/storage/lead"
	"leadmailer/internal/application/orchestrators"
	"leadmailer/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	config.SetupLogger(os.Stdout, cfg.LogLevel)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		slog.Error("database_init_failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Performance instrumentation: wrap DB and transport with timing
	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector)

	sender, err := cfg.NewSender()
	if err != nil {
		slog.Error("transport_init_failed", "transport", cfg.Transport, "error", err)
		os.Exit(1)
	}
	if cfg.Transport == config.TransportNoop && cfg.IsProduction() {
		slog.Warn("email_delivery_disabled", "hint", "set LEADMAILER_TRANSPORT to resend or smtp")
	}

	audits := auditStore.NewSQLiteStore(timedDB)
	srv, err := web.NewServer(web.Config{
		Addr:       cfg.Addr,
		CSRFKey:    cfg.CSRFKey,
		Production: cfg.IsProduction(),
	}, web.Deps{
		Recipients:  leadStore.NewSQLiteStore(timedDB),
		Transport:   email.NewTimedSender(sender, cfg.Transport, collector),
		Audit:       audits,
		AuditEvents: audits,
		AuditLog:    audits,
		History:     dispatchStore.NewSQLiteStore(timedDB),
		Registry:    orchestrators.NewRunRegistry(orchestrators.DefaultRetainFinished),
		Hub:         events.NewHub(events.DefaultCapacity),
		Collector:   collector,
		DB:          timedDB,
		Options: orchestrators.DispatchOptions{
			MaxBatch:  cfg.MaxBatch,
			SendDelay: cfg.SendDelay,
			From:      cfg.From,
			ReplyTo:   cfg.ReplyTo,
		},
	})
	if err != nil {
		slog.Error("server_init_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("leadmailer_starting",
		"version", version,
		"addr", cfg.Addr,
		"env", cfg.Env,
		"transport", cfg.Transport,
		"schema", storage.LatestSchemaVersion(),
	)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("leadmailer_stopped")
}
