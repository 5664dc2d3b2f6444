package tracking

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	MaxKeyLength        = 250
	MaxParamValueLength = 6000
)

type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unopened"
	}
}

type RunInfo struct {
	ID           string
	ExperimentID string
	Name         string
	Status       RunStatus
	StartTime    time.Time
	EndTime      *time.Time
	ArtifactURI  string
}

type CreateRunRequest struct {
	Name      string
	StartTime time.Time
	Tags      []Tag
}

type Param struct {
	Key   string
	Value string
}

type Metric struct {
	Key       string
	Value     float64
	Timestamp time.Time
	Step      int64
}

type Tag struct {
	Key   string
	Value string
}

// RunOptions configures BeginRun. Tags are merged over the client defaults.
type RunOptions struct {
	Name string
	Tags map[string]string
}

// Backend is the remote store runs are recorded in.
type Backend interface {
	CreateRun(ctx context.Context, req CreateRunRequest) (RunInfo, error)
	LogParam(ctx context.Context, runID string, p Param) error
	LogMetric(ctx context.Context, runID string, m Metric) error
	SetTag(ctx context.Context, runID string, t Tag) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error
	Close() error
}

// ArtifactStore receives files attached to a run. It returns the URI of the
// stored object.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, runID, name string, body io.Reader, size int64, contentType string) (string, error)
}

// ValidateKey applies the key rules shared by params, metrics and tags:
// non-blank, at most MaxKeyLength bytes, and only letters, digits, '_', '-',
// '.', ' ', '/' and ':'.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key %q longer than %d", ErrInvalidKey, truncate(key, 32)+"...", MaxKeyLength)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.', r == ' ', r == '/', r == ':':
		default:
			return fmt.Errorf("%w: key %q contains %q", ErrInvalidKey, key, r)
		}
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
