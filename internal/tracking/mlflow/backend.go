package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking"
)

const (
	apiPrefix            = "/api/2.0/mlflow/"
	defaultExperimentID  = "0"
	codeResourceMissing  = "RESOURCE_DOES_NOT_EXIST"
	maxErrorBodyBytes    = 64 << 10
	maxResponseBodyBytes = 4 << 20
)

// Backend talks to an MLflow tracking server over its REST API.
type Backend struct {
	base         *url.URL
	client       *http.Client
	timeout      time.Duration
	logger       *slog.Logger
	experimentID string
}

var _ tracking.Backend = (*Backend)(nil)

// Dial resolves the configured experiment, creating it when missing. The
// lookup doubles as the authentication handshake: unreachable servers and
// rejected credentials fail with tracking.ErrBackendUnavailable.
func Dial(ctx context.Context, cfg Config, client *http.Client, logger *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		base:    base,
		client:  client,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}

	experimentID, err := b.resolveExperiment(ctx, strings.TrimSpace(cfg.Experiment))
	if err != nil {
		return nil, err
	}
	b.experimentID = experimentID
	logger.Info("mlflow tracking connected", "tracking_uri", base.String(), "experiment_id", experimentID)
	return b, nil
}

func (b *Backend) resolveExperiment(ctx context.Context, name string) (string, error) {
	if name == "" {
		var resp getExperimentResponse
		q := url.Values{"experiment_id": {defaultExperimentID}}
		if err := b.call(ctx, http.MethodGet, "experiments/get", q, nil, &resp); err != nil {
			return "", err
		}
		return defaultExperimentID, nil
	}

	var found getExperimentResponse
	q := url.Values{"experiment_name": {name}}
	err := b.call(ctx, http.MethodGet, "experiments/get-by-name", q, nil, &found)
	if err == nil {
		return found.Experiment.ExperimentID, nil
	}
	var be *tracking.BackendError
	if !errors.As(err, &be) || be.Code != codeResourceMissing {
		return "", err
	}

	var created createExperimentResponse
	if err := b.call(ctx, http.MethodPost, "experiments/create", nil, createExperimentRequest{Name: name}, &created); err != nil {
		return "", err
	}
	b.logger.Info("mlflow experiment created", "experiment", name, "experiment_id", created.ExperimentID)
	return created.ExperimentID, nil
}

func (b *Backend) CreateRun(ctx context.Context, req tracking.CreateRunRequest) (tracking.RunInfo, error) {
	body := createRunRequest{
		ExperimentID: b.experimentID,
		RunName:      strings.TrimSpace(req.Name),
		StartTime:    millis(req.StartTime),
	}
	for _, tag := range req.Tags {
		body.Tags = append(body.Tags, runTag{Key: tag.Key, Value: tag.Value})
	}

	var resp createRunResponse
	if err := b.call(ctx, http.MethodPost, "runs/create", nil, body, &resp); err != nil {
		return tracking.RunInfo{}, err
	}
	info := resp.Run.Info
	if strings.TrimSpace(info.RunID) == "" {
		return tracking.RunInfo{}, &tracking.BackendError{Op: "runs/create", Message: "response has no run_id"}
	}
	return tracking.RunInfo{
		ID:           info.RunID,
		ExperimentID: info.ExperimentID,
		Name:         info.RunName,
		Status:       tracking.RunStatus(info.Status),
		StartTime:    time.UnixMilli(info.StartTime).UTC(),
		ArtifactURI:  info.ArtifactURI,
	}, nil
}

func (b *Backend) LogParam(ctx context.Context, runID string, p tracking.Param) error {
	return b.call(ctx, http.MethodPost, "runs/log-parameter", nil, logParamRequest{RunID: runID, Key: p.Key, Value: p.Value}, nil)
}

func (b *Backend) LogMetric(ctx context.Context, runID string, m tracking.Metric) error {
	value, err := wireFloat(m.Value)
	if err != nil {
		return fmt.Errorf("metric %q: %w", m.Key, err)
	}
	return b.call(ctx, http.MethodPost, "runs/log-metric", nil, logMetricRequest{
		RunID:     runID,
		Key:       m.Key,
		Value:     value,
		Timestamp: millis(m.Timestamp),
		Step:      m.Step,
	}, nil)
}

func (b *Backend) SetTag(ctx context.Context, runID string, t tracking.Tag) error {
	return b.call(ctx, http.MethodPost, "runs/set-tag", nil, setTagRequest{RunID: runID, Key: t.Key, Value: t.Value}, nil)
}

func (b *Backend) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	return b.call(ctx, http.MethodPost, "runs/update", nil, updateRunRequest{RunID: runID, Status: string(status), EndTime: millis(end)}, nil)
}

func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *Backend) call(ctx context.Context, method, endpoint string, query url.Values, in any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	u := *b.base
	u.Path = b.base.Path + apiPrefix + endpoint
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		blob, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		body = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := context.Cause(ctx); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", endpoint, ctxErr)
		}
		return tracking.Unavailable(endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(endpoint, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func decodeError(endpoint string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	be := &tracking.BackendError{
		Op:          endpoint,
		StatusCode:  resp.StatusCode,
		Unavailable: unavailableStatus(resp.StatusCode),
	}
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.ErrorCode != "" {
		be.Code = payload.ErrorCode
		be.Message = payload.Message
	} else {
		be.Message = strings.TrimSpace(string(raw))
		if len(be.Message) > 200 {
			be.Message = be.Message[:200]
		}
	}
	return be
}

// unavailableStatus reports responses meaning the server could not be used
// at all: rejected credentials, throttling, and server-side failures.
func unavailableStatus(code int) bool {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// wireFloat maps infinities to the largest finite float, as the MLflow server
// does; NaN has no JSON encoding and is rejected.
func wireFloat(v float64) (float64, error) {
	switch {
	case math.IsNaN(v):
		return 0, errors.New("NaN is not supported")
	case math.IsInf(v, 1):
		return math.MaxFloat64, nil
	case math.IsInf(v, -1):
		return -math.MaxFloat64, nil
	default:
		return v, nil
	}
}
