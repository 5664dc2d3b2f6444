package tracking

import (
	"context"
	"fmt"
	"io"
)

// Run is the handle of one open tracking run. The zero value is unopened.
type Run struct {
	client *Client
	info   RunInfo
	state  State
	params map[string]string
}

func (r *Run) ID() string { return r.info.ID }

func (r *Run) Info() RunInfo { return r.info }

func (r *Run) State() State { return r.state }

func (r *Run) usable() error {
	switch r.state {
	case StateOpen:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: %s", ErrRunClosed, r.info.ID)
	default:
		return fmt.Errorf("tracking run not opened")
	}
}

// LogParam records an immutable key/value pair. Logging a key a second time
// in the same run does not reach the backend.
func (r *Run) LogParam(ctx context.Context, name, value string) error {
	if err := r.usable(); err != nil {
		return err
	}
	if err := ValidateKey(name); err != nil {
		return fmt.Errorf("log param: %w", err)
	}
	if len(value) > MaxParamValueLength {
		return fmt.Errorf("log param %q: value longer than %d", name, MaxParamValueLength)
	}
	if prev, ok := r.params[name]; ok {
		if prev != value {
			r.client.logger.Warn("param already logged, keeping first value", "run_id", r.info.ID, "param", name, "logged", prev, "ignored", value)
		}
		return nil
	}
	if err := r.client.backend.LogParam(ctx, r.info.ID, Param{Key: name, Value: value}); err != nil {
		return fmt.Errorf("log param %q: %w", name, err)
	}
	r.params[name] = value
	return nil
}

// LogParams logs params in key order.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	for _, key := range sortedKeys(params) {
		if err := r.LogParam(ctx, key, params[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) LogMetric(ctx context.Context, name string, value float64) error {
	return r.LogMetricAt(ctx, name, value, 0)
}

// LogMetricAt records one point of a metric series.
func (r *Run) LogMetricAt(ctx context.Context, name string, value float64, step int64) error {
	if err := r.usable(); err != nil {
		return err
	}
	if err := ValidateKey(name); err != nil {
		return fmt.Errorf("log metric: %w", err)
	}
	m := Metric{
		Key:       name,
		Value:     value,
		Timestamp: r.client.now().UTC(),
		Step:      step,
	}
	if err := r.client.backend.LogMetric(ctx, r.info.ID, m); err != nil {
		return fmt.Errorf("log metric %q: %w", name, err)
	}
	return nil
}

// LogMetrics logs metrics in key order.
func (r *Run) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	for _, key := range sortedKeys(metrics) {
		if err := r.LogMetric(ctx, key, metrics[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) SetTag(ctx context.Context, key, value string) error {
	if err := r.usable(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("set tag: %w", err)
	}
	if err := r.client.backend.SetTag(ctx, r.info.ID, Tag{Key: key, Value: value}); err != nil {
		return fmt.Errorf("set tag %q: %w", key, err)
	}
	return nil
}

// LogArtifact uploads body to the client's artifact store and returns its URI.
func (r *Run) LogArtifact(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	if err := r.usable(); err != nil {
		return "", err
	}
	if r.client.artifacts == nil {
		return "", ErrNoArtifactStore
	}
	uri, err := r.client.artifacts.PutArtifact(ctx, r.info.ID, name, body, size, contentType)
	if err != nil {
		return "", fmt.Errorf("log artifact %q: %w", name, err)
	}
	r.client.logger.Info("tracking artifact stored", "run_id", r.info.ID, "artifact", name, "uri", uri)
	return uri, nil
}

// End closes the run with a terminal status; an empty status means FINISHED.
// The run is released locally even when the backend update fails, and only
// the first call reaches the backend.
func (r *Run) End(ctx context.Context, status RunStatus) error {
	if err := r.usable(); err != nil {
		return err
	}
	if status == "" {
		status = StatusFinished
	}
	if !status.Terminal() {
		return fmt.Errorf("end run: status %q is not terminal", status)
	}

	end := r.client.now().UTC()
	r.state = StateClosed
	r.info.Status = status
	r.info.EndTime = &end
	if r.client.open == r {
		r.client.open = nil
	}

	if err := r.client.backend.UpdateRun(ctx, r.info.ID, status, end); err != nil {
		r.client.logger.Error("tracking run end failed", "run_id", r.info.ID, "status", string(status), "error", err)
		return fmt.Errorf("end run: %w", err)
	}
	r.client.logger.Info("tracking run ended", "run_id", r.info.ID, "status", string(status))
	return nil
}
