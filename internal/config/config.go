// Package config loads the pipeline's YAML configuration and parameters and
// hands each stage its own validated view.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yaml"
	DefaultParamsPath = "params.yaml"
)

// File mirrors config/config.yaml.
type File struct {
	ArtifactsRoot string         `yaml:"artifacts_root"`
	Evaluation    EvaluationFile `yaml:"evaluation"`
}

type EvaluationFile struct {
	PathOfModel     string `yaml:"path_of_model"`
	TrainingData    string `yaml:"training_data"`
	PredictionsFile string `yaml:"predictions_file"`
	ScoresFile      string `yaml:"scores_file"`
	MLflowURI       string `yaml:"mlflow_uri"`
}

// EvaluationConfig is what the evaluation stage needs.
type EvaluationConfig struct {
	PathOfModel     string
	TrainingData    string
	PredictionsFile string
	ScoresFile      string
	MLflowURI       string
	AllParams       map[string]any
	ParamsImageSize []int
	ParamsBatchSize int
	ParamsClasses   int
}

type Manager struct {
	config File
	params map[string]any
}

// NewManager reads both files and creates the artifacts root.
func NewManager(configPath, paramsPath string) (*Manager, error) {
	if strings.TrimSpace(configPath) == "" {
		configPath = DefaultConfigPath
	}
	if strings.TrimSpace(paramsPath) == "" {
		paramsPath = DefaultParamsPath
	}

	var cfg File
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, err
	}
	params := map[string]any{}
	if err := readYAML(paramsPath, &params); err != nil {
		return nil, err
	}

	if root := strings.TrimSpace(cfg.ArtifactsRoot); root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create artifacts root: %w", err)
		}
	}
	return &Manager{config: cfg, params: params}, nil
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (m *Manager) Params() map[string]any {
	out := make(map[string]any, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// EvaluationConfig fills the defaults for scores_file (scores.json) and
// predictions_file (<artifacts_root>/evaluation/predictions.csv) and validates
// the result. Other paths are used as written, relative to the working
// directory.
func (m *Manager) EvaluationConfig() (EvaluationConfig, error) {
	ev := m.config.Evaluation
	cfg := EvaluationConfig{
		PathOfModel:     strings.TrimSpace(ev.PathOfModel),
		TrainingData:    strings.TrimSpace(ev.TrainingData),
		PredictionsFile: strings.TrimSpace(ev.PredictionsFile),
		ScoresFile:      strings.TrimSpace(ev.ScoresFile),
		MLflowURI:       strings.TrimSpace(ev.MLflowURI),
		AllParams:       m.Params(),
	}
	if cfg.ScoresFile == "" {
		cfg.ScoresFile = "scores.json"
	}
	if cfg.PredictionsFile == "" && m.config.ArtifactsRoot != "" {
		cfg.PredictionsFile = filepath.Join(m.config.ArtifactsRoot, "evaluation", "predictions.csv")
	}

	size, err := intList(m.params["IMAGE_SIZE"])
	if err != nil {
		return EvaluationConfig{}, fmt.Errorf("IMAGE_SIZE: %w", err)
	}
	cfg.ParamsImageSize = size
	if cfg.ParamsBatchSize, err = intParam(m.params, "BATCH_SIZE"); err != nil {
		return EvaluationConfig{}, err
	}
	if cfg.ParamsClasses, err = intParam(m.params, "CLASSES"); err != nil {
		return EvaluationConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return EvaluationConfig{}, err
	}
	return cfg, nil
}

func (c EvaluationConfig) Validate() error {
	if c.PredictionsFile == "" {
		return errors.New("evaluation.predictions_file is required")
	}
	if c.ScoresFile == "" {
		return errors.New("evaluation.scores_file is required")
	}
	if c.ParamsBatchSize < 0 {
		return errors.New("BATCH_SIZE must be >= 0")
	}
	if c.ParamsClasses == 1 || c.ParamsClasses < 0 {
		return errors.New("CLASSES must be 0 (unset) or at least 2")
	}
	for i, d := range c.ParamsImageSize {
		if d <= 0 {
			return fmt.Errorf("IMAGE_SIZE[%d] must be positive", i)
		}
	}
	return nil
}

// intParam reads an optional integer; a missing key is 0.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
	return n, nil
}

func intList(v any) ([]int, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list, got %T", v)
	}
	out := make([]int, 0, len(items))
	for i, item := range items {
		n, ok := item.(int)
		if !ok {
			return nil, fmt.Errorf("item %d must be an integer, got %T", i, item)
		}
		out = append(out, n)
	}
	return out, nil
}
