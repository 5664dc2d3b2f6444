// Package evaluation scores a trained classifier from its predictions on the
// held-out split and persists the scores for later stages.
package evaluation

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/config"
)

// epsilon matches the clipping Keras applies before taking logs in
// categorical cross-entropy.
const epsilon = 1e-7

// DefaultBatchSize is the Keras evaluate default, used when BATCH_SIZE is unset.
const DefaultBatchSize = 32

type Score struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"-"`
	Classes  int     `json:"-"`
	Batches  int     `json:"-"`
}

// ScoreOptions carries the training params the predictions must agree with.
type ScoreOptions struct {
	// Classes is the expected number of probability columns; 0 accepts any.
	Classes int
	// BatchSize groups rows the way the model was evaluated; cancellation is
	// checked once per batch.
	BatchSize int
}

func (s Score) Metrics() map[string]float64 {
	return map[string]float64{
		"loss":     s.Loss,
		"accuracy": s.Accuracy,
	}
}

type Evaluation struct {
	cfg    config.EvaluationConfig
	logger *slog.Logger
}

func New(cfg config.EvaluationConfig, logger *slog.Logger) (*Evaluation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluation{cfg: cfg, logger: logger}, nil
}

// Evaluate reads the predictions file and computes loss and accuracy.
func (e *Evaluation) Evaluate(ctx context.Context) (Score, error) {
	f, err := os.Open(e.cfg.PredictionsFile)
	if err != nil {
		return Score{}, fmt.Errorf("open predictions: %w", err)
	}
	defer func() { _ = f.Close() }()

	score, err := ScorePredictions(ctx, f, ScoreOptions{
		Classes:   e.cfg.ParamsClasses,
		BatchSize: e.cfg.ParamsBatchSize,
	})
	if err != nil {
		return Score{}, fmt.Errorf("%s: %w", e.cfg.PredictionsFile, err)
	}
	e.logger.Info("evaluation scored", "predictions", e.cfg.PredictionsFile, "model", e.cfg.PathOfModel, "samples", score.Samples, "batches", score.Batches, "classes", score.Classes, "loss", score.Loss, "accuracy", score.Accuracy)
	return score, nil
}

// ScorePredictions reads "label,p0,p1,..." rows: the true class index followed
// by one predicted probability per class.
func ScorePredictions(ctx context.Context, r io.Reader, opts ScoreOptions) (Score, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Score{}, errors.New("predictions file is empty")
		}
		return Score{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 3 || !strings.EqualFold(strings.TrimSpace(header[0]), "label") {
		return Score{}, errors.New("header must be label followed by at least two probability columns")
	}
	classes := len(header) - 1
	if opts.Classes > 0 && classes != opts.Classes {
		return Score{}, fmt.Errorf("predictions have %d classes, CLASSES is %d", classes, opts.Classes)
	}

	var (
		lossSum float64
		correct int
		samples int
	)
	probs := make([]float64, classes)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Score{}, fmt.Errorf("read row %d: %w", samples+1, err)
		}
		if samples%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return Score{}, err
			}
		}
		samples++

		label, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return Score{}, fmt.Errorf("row %d: label: %w", samples, err)
		}
		if label < 0 || label >= classes {
			return Score{}, fmt.Errorf("row %d: label %d out of range [0,%d)", samples, label, classes)
		}
		for i := range probs {
			p, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return Score{}, fmt.Errorf("row %d: p%d: %w", samples, i, err)
			}
			if math.IsNaN(p) || p < 0 || p > 1 {
				return Score{}, fmt.Errorf("row %d: p%d=%v outside [0,1]", samples, i, p)
			}
			probs[i] = p
		}

		lossSum -= math.Log(clip(probs[label]))
		if argmax(probs) == label {
			correct++
		}
	}
	if samples == 0 {
		return Score{}, errors.New("predictions file has no rows")
	}

	return Score{
		Loss:     lossSum / float64(samples),
		Accuracy: float64(correct) / float64(samples),
		Samples:  samples,
		Classes:  classes,
		Batches:  (samples + batchSize - 1) / batchSize,
	}, nil
}

// SaveScore writes {"loss": ..., "accuracy": ...} to the scores file.
func (e *Evaluation) SaveScore(ctx context.Context, score Score) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(score, "", "    ")
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	blob = append(blob, '\n')

	path := e.cfg.ScoresFile
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scores dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".scores-*.json")
	if err != nil {
		return fmt.Errorf("create scores temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write scores: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close scores: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename scores: %w", err)
	}
	e.logger.Info("scores saved", "path", path)
	return nil
}

// ScoresFile is where SaveScore writes.
func (e *Evaluation) ScoresFile() string { return e.cfg.ScoresFile }

func clip(p float64) float64 {
	return math.Min(math.Max(p, epsilon), 1-epsilon)
}

func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
