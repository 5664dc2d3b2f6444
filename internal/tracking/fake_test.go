package tracking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

type updateCall struct {
	RunID  string
	Status RunStatus
	End    time.Time
}

type fakeBackend struct {
	createErr error
	updateErr error
	logErr    error

	nextID  int
	created []CreateRunRequest
	params  map[string][]Param
	metrics map[string][]Metric
	tags    map[string][]Tag
	updates []updateCall
	closed  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		params:  map[string][]Param{},
		metrics: map[string][]Metric{},
		tags:    map[string][]Tag{},
	}
}

func (f *fakeBackend) CreateRun(ctx context.Context, req CreateRunRequest) (RunInfo, error) {
	if f.createErr != nil {
		return RunInfo{}, f.createErr
	}
	f.nextID++
	f.created = append(f.created, req)
	return RunInfo{
		ID:           fmt.Sprintf("run-%d", f.nextID),
		ExperimentID: "0",
		Name:         req.Name,
		StartTime:    req.StartTime,
	}, nil
}

func (f *fakeBackend) LogParam(ctx context.Context, runID string, p Param) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.params[runID] = append(f.params[runID], p)
	return nil
}

func (f *fakeBackend) LogMetric(ctx context.Context, runID string, m Metric) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.metrics[runID] = append(f.metrics[runID], m)
	return nil
}

func (f *fakeBackend) SetTag(ctx context.Context, runID string, t Tag) error {
	f.tags[runID] = append(f.tags[runID], t)
	return nil
}

func (f *fakeBackend) UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error {
	f.updates = append(f.updates, updateCall{RunID: runID, Status: status, End: end})
	return f.updateErr
}

func (f *fakeBackend) Close() error {
	f.closed++
	return nil
}

func (f *fakeBackend) logCalls() int {
	n := 0
	for _, p := range f.params {
		n += len(p)
	}
	for _, m := range f.metrics {
		n += len(m)
	}
	return n
}

type fakeArtifactStore struct {
	objects map[string][]byte
}

func (s *fakeArtifactStore) PutArtifact(ctx context.Context, runID, name string, body io.Reader, size int64, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	key := runID + "/" + name
	s.objects[key] = buf.Bytes()
	return "s3://test/" + key, nil
}
