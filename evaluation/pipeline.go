package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/config"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/evaluation"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking"
)

type runOptions struct {
	configPath string
	paramsPath string
	tracking   bool
	backend    string
	runName    string
}

// pipeline holds the stage's collaborators; the constructors are swapped out
// in tests.
type pipeline struct {
	logger        *slog.Logger
	openBackend   func(ctx context.Context, kind, trackingURI string) (tracking.Backend, error)
	openArtifacts func(ctx context.Context) (tracking.ArtifactStore, error)
}

func newPipeline(logger *slog.Logger) *pipeline {
	return &pipeline{
		logger: logger,
		openBackend: func(ctx context.Context, kind, trackingURI string) (tracking.Backend, error) {
			return openBackend(ctx, kind, trackingURI, logger)
		},
		openArtifacts: openArtifactStore,
	}
}

func (p *pipeline) stage(ctx context.Context, name string, fn func() error) error {
	p.logger.InfoContext(ctx, fmt.Sprintf(">>>>>> stage %s stage started <<<<<<", name))
	if err := fn(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	p.logger.InfoContext(ctx, fmt.Sprintf(">>>>>> stage %s stage completed <<<<<<", name))
	return nil
}

// run scores the model, saves scores.json and then, when tracking is on,
// records params, metrics and the scores artifact under one run. Scores are on
// disk before the tracker is contacted.
func (p *pipeline) run(ctx context.Context, opts runOptions) error {
	if opts.tracking {
		if _, err := backendKind(opts.backend); err != nil {
			return invalidConfig(err)
		}
	}

	mgr, err := config.NewManager(opts.configPath, opts.paramsPath)
	if err != nil {
		return invalidConfig(fmt.Errorf("load config: %w", err))
	}
	evalCfg, err := mgr.EvaluationConfig()
	if err != nil {
		return invalidConfig(fmt.Errorf("evaluation config: %w", err))
	}
	ev, err := evaluation.New(evalCfg, p.logger)
	if err != nil {
		return invalidConfig(err)
	}

	score, err := ev.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if err := ev.SaveScore(ctx, score); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}

	if !opts.tracking {
		p.logger.InfoContext(ctx, "tracking disabled", "loss", score.Loss, "accuracy", score.Accuracy)
		return nil
	}

	client, err := p.client(ctx, opts.backend, evalCfg.MLflowURI, true)
	if err != nil {
		return err
	}
	defer p.closeClient(client)

	runOpts := tracking.RunOptions{
		Name: opts.runName,
		Tags: runTags(evalCfg),
	}
	return client.WithRun(ctx, runOpts, func(ctx context.Context, run *tracking.Run) error {
		params, err := paramValues(evalCfg.AllParams)
		if err != nil {
			return err
		}
		if err := run.LogParams(ctx, params); err != nil {
			return fmt.Errorf("log params: %w", err)
		}
		if err := run.LogMetrics(ctx, score.Metrics()); err != nil {
			return fmt.Errorf("log metrics: %w", err)
		}
		return p.uploadScores(ctx, run, ev.ScoresFile())
	})
}

// smoke logs the placeholder pair used to check a fresh tracking setup.
func (p *pipeline) smoke(ctx context.Context, backend, trackingURI string) error {
	if _, err := backendKind(backend); err != nil {
		return invalidConfig(err)
	}
	client, err := p.client(ctx, backend, trackingURI, false)
	if err != nil {
		return err
	}
	defer p.closeClient(client)

	return client.WithRun(ctx, tracking.RunOptions{Tags: map[string]string{"stage": "smoke"}}, func(ctx context.Context, run *tracking.Run) error {
		if err := run.LogParam(ctx, "parameter name", "value"); err != nil {
			return err
		}
		return run.LogMetric(ctx, "metric name", 1)
	})
}

func (p *pipeline) client(ctx context.Context, backend, trackingURI string, withArtifacts bool) (*tracking.Client, error) {
	tags, err := defaultTags()
	if err != nil {
		return nil, invalidConfig(err)
	}

	var store tracking.ArtifactStore
	if withArtifacts {
		store, err = p.openArtifacts(ctx)
		if err != nil {
			return nil, err
		}
	}

	b, err := p.openBackend(ctx, backend, trackingURI)
	if err != nil {
		return nil, err
	}

	opts := []tracking.Option{tracking.WithLogger(p.logger), tracking.WithDefaultTags(tags)}
	if store != nil {
		opts = append(opts, tracking.WithArtifactStore(store))
	}
	client, err := tracking.NewClient(b, opts...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return client, nil
}

func (p *pipeline) closeClient(client *tracking.Client) {
	if err := client.Close(); err != nil {
		p.logger.Warn("tracking client close failed", "error", err)
	}
}

func (p *pipeline) uploadScores(ctx context.Context, run *tracking.Run, path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	location, err := run.LogArtifact(ctx, "scores.json", bytes.NewReader(blob), int64(len(blob)), "application/json")
	if errors.Is(err, tracking.ErrNoArtifactStore) {
		p.logger.DebugContext(ctx, "no artifact store; scores not uploaded", "run_id", run.ID())
		return nil
	}
	if err != nil {
		return fmt.Errorf("upload scores: %w", err)
	}
	if err := run.SetTag(ctx, "scores.location", location); err != nil {
		return fmt.Errorf("tag scores location: %w", err)
	}
	return nil
}

// defaultTags are applied to every run: the source stage, the commit when the
// CI exports one, and any TRACKING_TAGS="k=v,k=v" extras.
func defaultTags() (map[string]string, error) {
	tags := map[string]string{
		"mlflow.source.name": "evaluation",
		"mlflow.source.type": "JOB",
	}
	if commit := env.FirstString("", "GIT_COMMIT", "GITHUB_SHA"); commit != "" {
		tags["mlflow.source.git.commit"] = commit
	}
	extra, err := env.StringMap("TRACKING_TAGS")
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags, nil
}

// runTags ties the run to the model and data it scored.
func runTags(cfg config.EvaluationConfig) map[string]string {
	tags := map[string]string{"stage": "evaluation"}
	if cfg.PathOfModel != "" {
		tags["model.path"] = cfg.PathOfModel
	}
	if cfg.TrainingData != "" {
		tags["data.path"] = cfg.TrainingData
	}
	if len(cfg.ParamsImageSize) > 0 {
		dims := make([]string, len(cfg.ParamsImageSize))
		for i, d := range cfg.ParamsImageSize {
			dims[i] = strconv.Itoa(d)
		}
		tags["model.input_shape"] = strings.Join(dims, "x")
	}
	return tags
}

// paramValues flattens params.yaml into tracker params. Scalars keep their
// plain text form; lists and maps are logged as JSON.
func paramValues(params map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case bool, int, int64, float64:
			out[k] = fmt.Sprint(val)
		default:
			blob, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", k, err)
			}
			out[k] = string(blob)
		}
	}
	return out, nil
}

func backendKind(raw string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(raw))
	switch kind {
	case backendMLflow, backendPostgres:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown tracking backend %q (want %s or %s)", raw, backendMLflow, backendPostgres)
	}
}
