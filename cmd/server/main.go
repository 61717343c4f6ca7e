// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"

	"github.com/reelpipe/reelpipe/internal/artifact"
	"github.com/reelpipe/reelpipe/internal/assemble"
	"github.com/reelpipe/reelpipe/internal/bus"
	"github.com/reelpipe/reelpipe/internal/httpapi"
	"github.com/reelpipe/reelpipe/internal/media"
	"github.com/reelpipe/reelpipe/internal/narration"
	"github.com/reelpipe/reelpipe/internal/orchestrator"
	"github.com/reelpipe/reelpipe/internal/planner"
	"github.com/reelpipe/reelpipe/internal/render"
	"github.com/reelpipe/reelpipe/internal/segment"
	"github.com/reelpipe/reelpipe/internal/store"
)

type config struct {
	ListenAddr      string
	WorkDir         string
	BackendsFile    string
	NarrationURL    string
	PlannerURL      string
	NATSURL         string
	OwnerID         uuid.UUID
	TenantID        uuid.UUID
	ShutdownSeconds int
}

func loadConfig() (config, error) {
	cfg := config{
		ListenAddr:   getenv("LISTEN_ADDR", ":8080"),
		WorkDir:      getenv("WORK_DIR", "./data/work"),
		BackendsFile: getenv("RENDER_BACKENDS_FILE", "./configs/backends.yaml"),
		NarrationURL: getenv("NARRATION_URL", ""),
		PlannerURL:   getenv("PLANNER_URL", ""),
		NATSURL:      getenv("NATS_URL", ""),
	}
	if cfg.NarrationURL == "" {
		return config{}, fmt.Errorf("NARRATION_URL is required")
	}
	if cfg.PlannerURL == "" {
		return config{}, fmt.Errorf("PLANNER_URL is required")
	}

	ownerID, err := parseUUID(getenv("CONTENT_OWNER_ID", ""), "CONTENT_OWNER_ID")
	if err != nil {
		return config{}, err
	}
	cfg.OwnerID = ownerID

	tenantID, err := parseUUID(getenv("CONTENT_TENANT_ID", ""), "CONTENT_TENANT_ID")
	if err != nil {
		return config{}, err
	}
	cfg.TenantID = tenantID

	shutdown, err := parsePositiveInt(getenv("SHUTDOWN_GRACE_SECONDS", "30"), "SHUTDOWN_GRACE_SECONDS")
	if err != nil {
		return config{}, err
	}
	cfg.ShutdownSeconds = shutdown

	return cfg, nil
}

func loadSimpleContentConfig() (*simpleconfig.ServerConfig, error) {
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(getenv("DATABASE_TYPE", "postgres"), getenv("DATABASE_URL", "")),
		simpleconfig.WithDatabaseSchema(getenv("DATABASE_SCHEMA", "content")),
		simpleconfig.WithDefaultStorage(getenv("DEFAULT_STORAGE_BACKEND", "s3")),
	}

	switch getenv("DEFAULT_STORAGE_BACKEND", "s3") {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			getenv("AWS_S3_BUCKET", "reelpipe-content"),
			getenv("AWS_S3_REGION", "us-east-1"),
			getenv("AWS_ACCESS_KEY_ID", ""),
			getenv("AWS_SECRET_ACCESS_KEY", ""),
			getenv("AWS_S3_ENDPOINT", ""),
			getenvBool("AWS_S3_USE_SSL", false),
			getenvBool("AWS_S3_USE_PATH_STYLE", true),
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithPreviews(false),
		simpleconfig.WithStorageDelegatedURLs(),
	)

	return simpleconfig.Load(opts...)
}

func newLogger() *slog.Logger {
	if getenv("LOG_FORMAT", "text") == "pretty" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo, TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("server starting", "listen_addr", cfg.ListenAddr, "work_dir", cfg.WorkDir, "backends_file", cfg.BackendsFile)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		fatal(logger, "ensure work directory", err, "work_dir", cfg.WorkDir)
	}

	renderCfg, err := render.LoadConfig(cfg.BackendsFile)
	if err != nil {
		fatal(logger, "load render backends", err, "backends_file", cfg.BackendsFile)
	}
	logger.Info("render backends loaded", "count", len(renderCfg.Backends))

	contentCfg, err := loadSimpleContentConfig()
	if err != nil {
		fatal(logger, "load simplecontent config", err)
	}
	contentSvc, err := contentCfg.BuildService()
	if err != nil {
		fatal(logger, "build simplecontent service", err)
	}
	logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend)

	var publisher bus.Publisher = bus.Noop{}
	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		defer nc.Close()
		publisher = nc
	} else {
		logger.Info("no NATS_URL configured, lifecycle events disabled")
	}

	st := store.New()
	artifacts := artifact.NewStore(contentSvc, contentCfg.DefaultStorageBackend, cfg.OwnerID, cfg.TenantID)
	toolchain := media.New(cfg.WorkDir)
	processor := segment.NewProcessor(st, render.NewClient(renderCfg), narration.NewClient(cfg.NarrationURL), artifacts, toolchain, logger)
	orc := orchestrator.New(st, processor, publisher, logger)
	assembler := assemble.New(st, artifacts, toolchain, publisher, cfg.WorkDir, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := httpapi.NewServer(ctx, st, orc, assembler, planner.NewClient(cfg.PlannerURL), artifacts, logger)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Routes(),
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "http server", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	orc.Wait()
	logger.Info("stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseUUID(value, name string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
