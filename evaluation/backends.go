package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/auth"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/objectstore"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/postgres"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking/mlflow"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking/pgstore"
)

const (
	backendMLflow   = "mlflow"
	backendPostgres = "postgres"
)

func openBackend(ctx context.Context, kind, trackingURI string, logger *slog.Logger) (tracking.Backend, error) {
	resolved, err := backendKind(kind)
	if err != nil {
		return nil, invalidConfig(err)
	}
	switch resolved {
	case backendPostgres:
		return openPostgres(ctx)
	default:
		return openMLflow(ctx, trackingURI, logger)
	}
}

// openMLflow resolves the tracking URI from MLFLOW_TRACKING_URI, then the
// config file, then the DagsHub owner/name pair.
func openMLflow(ctx context.Context, trackingURI string, logger *slog.Logger) (tracking.Backend, error) {
	cfg, err := mlflow.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("mlflow config: %w", err))
	}
	if strings.TrimSpace(cfg.TrackingURI) == "" && strings.TrimSpace(trackingURI) != "" {
		cfg.TrackingURI = trackingURI
		if err := cfg.Validate(); err != nil {
			return nil, invalidConfig(fmt.Errorf("mlflow config: %w", err))
		}
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("tracking auth config: %w", err))
	}
	httpClient, err := auth.HTTPClient(ctx, authCfg, &http.Client{})
	if err != nil {
		return nil, tracking.Unavailable("authenticate", err)
	}

	backend, err := mlflow.Dial(ctx, cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

func openPostgres(ctx context.Context) (tracking.Backend, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("tracking database config: %w", err))
	}
	storeCfg, err := pgstore.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("tracking store config: %w", err))
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, tracking.Unavailable("connect tracking database", err)
	}
	if storeCfg.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	store, err := pgstore.New(db, storeCfg.Experiment, storeCfg.Actor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// openArtifactStore returns nil when ARTIFACT_STORE_ENABLED is off.
func openArtifactStore(ctx context.Context) (tracking.ArtifactStore, error) {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("artifact store config: %w", err))
	}
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("artifact store client: %w", err))
	}

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(startupCtx, client, cfg); err != nil {
		return nil, fmt.Errorf("artifact store unavailable: %w", err)
	}

	store, err := objectstore.NewRunStore(client, cfg)
	if err != nil {
		return nil, invalidConfig(err)
	}
	return store, nil
}
