package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tabletalk/tabletalk/internal/api"
	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dbconn"
	"github.com/tabletalk/tabletalk/internal/nl2chart"
	"github.com/tabletalk/tabletalk/internal/nl2sql"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/pipeline"
	"github.com/tabletalk/tabletalk/internal/query"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/storage"
	s3store "github.com/tabletalk/tabletalk/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("tabletalk-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	registry := session.NewRegistry(sessionBuilder(cfg, logger))
	defer registry.CloseAll()

	var archiver api.SessionArchiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = &storage.Archiver{Store: objectStore, Logger: logger}
	}

	deps := api.Dependencies{
		Logger:   logger,
		Sessions: registry,
		Archiver: archiver,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseConfig(cfg),
			api.CheckAIConfig(cfg),
			api.CheckArchiveConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// sessionBuilder assembles a ready session per open request: database
// connection, query engine, schema introspector, translators, and the step
// runner. Request options override the configured defaults.
func sessionBuilder(cfg config.Config, logger *slog.Logger) session.BuildFunc {
	return func(ctx context.Context, id string, opts session.Options) (*session.Session, error) {
		driver := firstNonEmpty(opts.Driver, cfg.Database.Driver)
		dsn := opts.DSN
		if strings.TrimSpace(dsn) == "" {
			dsn = cfg.Database.DSN
		}

		db, err := dbconn.Open(ctx, dbconn.Config{
			Driver:          driver,
			DSN:             dsn,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}

		sqlModel := firstNonEmpty(opts.SQLModel, cfg.AI.SQLModel)
		sqlTranslator, err := nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       sqlModel,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}

		chartModel := ""
		var chartTranslator nl2chart.Translator
		if cfg.AI.ChartEnabled {
			chartModel = firstNonEmpty(opts.ChartModel, cfg.AI.ChartModel)
			chartTranslator, err = nl2chart.NewOpenAITranslator(nl2chart.OpenAIConfig{
				BaseURL:     cfg.AI.BaseURL,
				APIKey:      cfg.AI.APIKey,
				Model:       chartModel,
				Temperature: cfg.AI.Temperature,
				Timeout:     cfg.AI.Timeout,
			})
			if err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		engine := query.NewSQLEngine(db)
		runner := &pipeline.Runner{
			SQLTranslator:   sqlTranslator,
			ChartTranslator: chartTranslator,
			Engine:          engine,
			Schema:          &dbconn.Introspector{Engine: engine, Driver: driver},
			Dialect:         driver,
			SampleRows:      cfg.AI.SampleRows,
		}

		return session.New(session.Config{
			ID:         id,
			Driver:     driver,
			DSN:        dsn,
			SQLModel:   sqlModel,
			ChartModel: chartModel,
			Policy: session.ChartPolicy{
				MinRows:    cfg.Chart.MinRows,
				MinColumns: cfg.Chart.MinColumns,
			},
		}, db, runner, logger), nil
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}
