package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Client owns a Backend for the life of the process. It is not safe for
// concurrent use.
type Client struct {
	backend     Backend
	artifacts   ArtifactStore
	logger      *slog.Logger
	now         func() time.Time
	defaultTags map[string]string

	open   *Run
	closed bool
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithArtifactStore(store ArtifactStore) Option {
	return func(c *Client) { c.artifacts = store }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDefaultTags sets tags applied to every run this client opens.
func WithDefaultTags(tags map[string]string) Option {
	return func(c *Client) {
		for k, v := range tags {
			c.defaultTags[k] = v
		}
	}
}

func NewClient(backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("tracking backend is required")
	}
	c := &Client{
		backend:     backend,
		logger:      slog.Default(),
		now:         time.Now,
		defaultTags: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BeginRun asks the backend for a new run. Connection and authentication
// failures satisfy errors.Is(err, ErrBackendUnavailable).
func (c *Client) BeginRun(ctx context.Context, opts RunOptions) (*Run, error) {
	if c.closed {
		return nil, errors.New("tracking client is closed")
	}
	if c.open != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyOpen, c.open.info.ID)
	}

	tags := make(map[string]string, len(c.defaultTags)+len(opts.Tags))
	maps.Copy(tags, c.defaultTags)
	maps.Copy(tags, opts.Tags)
	req := CreateRunRequest{
		Name:      opts.Name,
		StartTime: c.now().UTC(),
	}
	for _, key := range sortedKeys(tags) {
		if err := ValidateKey(key); err != nil {
			return nil, fmt.Errorf("run tag: %w", err)
		}
		req.Tags = append(req.Tags, Tag{Key: key, Value: tags[key]})
	}

	info, err := c.backend.CreateRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	if info.Status == "" {
		info.Status = StatusRunning
	}

	run := &Run{
		client: c,
		info:   info,
		state:  StateOpen,
		params: map[string]string{},
	}
	c.open = run
	c.logger.Info("tracking run started", "run_id", info.ID, "experiment_id", info.ExperimentID, "run_name", info.Name)
	return run, nil
}

// WithRun opens a run, calls fn with it and ends the run on every exit path.
// The run ends FINISHED when fn returns nil, KILLED when fn fails with a
// context error or panics, and FAILED otherwise. fn's error is returned
// unchanged, joined with the end error when closing also fails. fn is not
// called when the run cannot be opened.
func (c *Client) WithRun(ctx context.Context, opts RunOptions, fn func(context.Context, *Run) error) (err error) {
	run, err := c.BeginRun(ctx, opts)
	if err != nil {
		return err
	}

	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			if endErr := run.End(endCtx, StatusKilled); endErr != nil && !errors.Is(endErr, ErrRunClosed) {
				c.logger.Error("tracking run end after panic failed", "run_id", run.ID(), "error", endErr)
			}
			panic(p)
		}
		status := StatusFinished
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = StatusKilled
		default:
			status = StatusFailed
		}
		if endErr := run.End(endCtx, status); endErr != nil && !errors.Is(endErr, ErrRunClosed) {
			err = errors.Join(err, endErr)
		}
	}()

	return fn(ctx, run)
}

// Close ends a run left open as KILLED and releases the backend.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	var errs []error
	if c.open != nil {
		if err := c.open.End(context.Background(), StatusKilled); err != nil && !errors.Is(err, ErrRunClosed) {
			errs = append(errs, err)
		}
	}
	c.closed = true
	if err := c.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	return errors.Join(errs...)
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
