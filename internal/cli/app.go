package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harun/chatrelay/internal/config"
	"github.com/harun/chatrelay/internal/logger"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/catalog"
	"github.com/harun/chatrelay/pkg/relay"
	"github.com/harun/chatrelay/pkg/session"
	"github.com/harun/chatrelay/pkg/upstream"
	"github.com/rs/zerolog"
)

// app wires the core components shared by serve and chat
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	catalog *catalog.Catalog
	store   *session.Store
	relay   *relay.Relay

	auditOpen bool
	traceFile io.Closer
}

// newApp builds logging, tracing, audit and the relay from cfg. Console log
// output goes to consoleOut when enabled in cfg.
func newApp(cfg *config.Config, consoleOut io.Writer) (*app, error) {
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		Secrets:    []string{cfg.Upstream.APIKey},
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Output:     consoleOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := log.GetZerolog()

	a := &app{cfg: cfg, log: log, logger: zl}
	if err := a.initTracing(); err != nil {
		a.Close()
		return nil, err
	}

	a.catalog, err = catalog.New(modelsFromConfig(cfg.Models))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid model catalog: %w", err)
	}

	a.store = session.NewStore(session.StoreConfig{
		DefaultTitle: cfg.Relay.DefaultTitle,
		DefaultModel: cfg.Relay.DefaultModel,
		Logger:       &zl,
	})

	client, err := upstream.New(upstream.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		APIKey:          cfg.Upstream.APIKey,
		ConnectTimeout:  cfg.Upstream.ConnectTimeout,
		ResponseTimeout: cfg.Upstream.ResponseTimeout,
		Logger:          &zl,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	a.relay, err = relay.New(relay.Config{
		Store:          a.store,
		Upstream:       client,
		Catalog:        a.catalog,
		Logger:         zl,
		EventBuffer:    cfg.Relay.EventBuffer,
		ValidateModels: cfg.Relay.ValidateModels,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	return a, nil
}

func (a *app) initTracing() error {
	rotation := logger.RotationConfig{
		MaxSize:    a.cfg.Logging.MaxSize,
		MaxAge:     a.cfg.Logging.MaxAge,
		MaxBackups: a.cfg.Logging.MaxBackups,
		Compress:   a.cfg.Logging.Compress,
	}

	if a.cfg.Tracing.AuditFile != "" {
		w, err := logger.NewRotatingWriter(a.cfg.Tracing.AuditFile, rotation)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		observability.InitAuditLogger(w)
		a.auditOpen = true
	}

	if !a.cfg.Tracing.Enabled {
		return nil
	}
	opts := tracing.Options{ServiceName: "chatrelay", SampleRatio: a.cfg.Tracing.SampleRatio}
	if a.cfg.Tracing.File != "" {
		w, err := logger.NewRotatingWriter(a.cfg.Tracing.File, rotation)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		opts.Exporter = w
		a.traceFile = w
	}
	if err := tracing.InitOpenTelemetry(opts); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return nil
}

// createDefaultSession creates the session available right after startup
func (a *app) createDefaultSession(ctx context.Context) (string, error) {
	if !a.cfg.Relay.DefaultSession {
		return "", nil
	}
	view, err := a.relay.CreateSession(ctx, relay.CreateParams{Title: a.cfg.Relay.DefaultSessionTitle})
	if err != nil {
		return "", fmt.Errorf("failed to create default session: %w", err)
	}
	a.logger.Info().Str("session_id", view.ID).Str("title", view.Title).Msg("Default session created")
	return view.ID, nil
}

// reloadCatalog applies the model list of a changed config file
func (a *app) reloadCatalog(cfg *config.Config) {
	if err := a.catalog.Replace(modelsFromConfig(cfg.Models)); err != nil {
		a.logger.Warn().Err(err).Msg("Ignoring invalid model catalog from config change")
		return
	}
	a.logger.Info().Int("models", len(cfg.Models)).Msg("Model catalog reloaded")
}

// Close flushes spans and closes log files
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	if a.traceFile != nil {
		_ = a.traceFile.Close()
	}
	if a.auditOpen {
		if err := observability.GetAuditLogger().Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close audit log")
		}
		observability.InitAuditLogger(io.Discard)
	}
	_ = a.log.Close()
}

func modelsFromConfig(models []config.ModelConfig) []catalog.Model {
	out := make([]catalog.Model, 0, len(models))
	for _, m := range models {
		out = append(out, catalog.Model{ID: m.ID, Name: m.Name, Description: m.Description})
	}
	return out
}
