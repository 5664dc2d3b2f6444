package evaluation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/config"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorePredictions(t *testing.T) {
	in := strings.Join([]string{
		"label,p0,p1",
		"0,0.9,0.1",
		"1,0.2,0.8",
		"1,0.6,0.4",
		"0,0.5,0.5",
	}, "\n")
	score, err := ScorePredictions(context.Background(), strings.NewReader(in), ScoreOptions{})
	if err != nil {
		t.Fatalf("ScorePredictions() err=%v", err)
	}
	if score.Samples != 4 || score.Classes != 2 || score.Batches != 1 {
		t.Fatalf("score=%+v", score)
	}
	// Ties resolve to the lowest class index, so the last row counts as correct.
	if !almostEqual(score.Accuracy, 0.75) {
		t.Fatalf("Accuracy=%v, want 0.75", score.Accuracy)
	}
	wantLoss := -(math.Log(0.9) + math.Log(0.8) + math.Log(0.4) + math.Log(0.5)) / 4
	if !almostEqual(score.Loss, wantLoss) {
		t.Fatalf("Loss=%v, want %v", score.Loss, wantLoss)
	}
}

func TestScorePredictions_ClipsZeroProbability(t *testing.T) {
	score, err := ScorePredictions(context.Background(), strings.NewReader("label,p0,p1\n1,1,0\n"), ScoreOptions{})
	if err != nil {
		t.Fatalf("ScorePredictions() err=%v", err)
	}
	if math.IsInf(score.Loss, 0) || !almostEqual(score.Loss, -math.Log(epsilon)) {
		t.Fatalf("Loss=%v, want clipped %v", score.Loss, -math.Log(epsilon))
	}
}

func TestScorePredictions_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no rows":     "label,p0,p1\n",
		"bad header":  "y,p0,p1\n0,1,0\n",
		"one class":   "label,p0\n0,1\n",
		"label range": "label,p0,p1\n2,0.5,0.5\n",
		"bad label":   "label,p0,p1\nx,0.5,0.5\n",
		"bad prob":    "label,p0,p1\n0,abc,0.5\n",
		"prob range":  "label,p0,p1\n0,1.5,0.5\n",
		"short row":   "label,p0,p1\n0,0.5\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ScorePredictions(context.Background(), strings.NewReader(in), ScoreOptions{}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestScorePredictions_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ScorePredictions(ctx, strings.NewReader("label,p0,p1\n0,1,0\n"), ScoreOptions{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestEvaluation_EvaluateAndSaveScore(t *testing.T) {
	dir := t.TempDir()
	predictions := filepath.Join(dir, "predictions.csv")
	if err := os.WriteFile(predictions, []byte("label,p0,p1\n0,0.7,0.3\n1,0.1,0.9\n"), 0o644); err != nil {
		t.Fatalf("write predictions: %v", err)
	}
	cfg := config.EvaluationConfig{
		PredictionsFile: predictions,
		ScoresFile:      filepath.Join(dir, "out", "scores.json"),
	}
	e, err := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	score, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if !almostEqual(score.Accuracy, 1) {
		t.Fatalf("Accuracy=%v, want 1", score.Accuracy)
	}
	if err := e.SaveScore(context.Background(), score); err != nil {
		t.Fatalf("SaveScore() err=%v", err)
	}

	raw, err := os.ReadFile(cfg.ScoresFile)
	if err != nil {
		t.Fatalf("read scores: %v", err)
	}
	var got map[string]float64
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode scores: %v", err)
	}
	if len(got) != 2 || !almostEqual(got["accuracy"], 1) || !almostEqual(got["loss"], score.Loss) {
		t.Fatalf("scores=%v", got)
	}
}

func TestEvaluation_MissingPredictions(t *testing.T) {
	cfg := config.EvaluationConfig{PredictionsFile: filepath.Join(t.TempDir(), "missing.csv"), ScoresFile: "scores.json"}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, err := e.Evaluate(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestScorePredictions_Options(t *testing.T) {
	in := "label,p0,p1\n0,0.9,0.1\n1,0.2,0.8\n1,0.3,0.7\n"

	score, err := ScorePredictions(context.Background(), strings.NewReader(in), ScoreOptions{Classes: 2, BatchSize: 2})
	if err != nil {
		t.Fatalf("ScorePredictions() err=%v", err)
	}
	if score.Batches != 2 {
		t.Fatalf("Batches=%d, want 2", score.Batches)
	}

	if _, err := ScorePredictions(context.Background(), strings.NewReader(in), ScoreOptions{Classes: 4}); err == nil {
		t.Fatalf("expected class count mismatch error")
	}
}

func TestEvaluation_UsesParamsClasses(t *testing.T) {
	dir := t.TempDir()
	predictions := filepath.Join(dir, "predictions.csv")
	if err := os.WriteFile(predictions, []byte("label,p0,p1\n0,0.7,0.3\n"), 0o644); err != nil {
		t.Fatalf("write predictions: %v", err)
	}
	cfg := config.EvaluationConfig{PredictionsFile: predictions, ScoresFile: filepath.Join(dir, "scores.json"), ParamsClasses: 3}
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, err := e.Evaluate(context.Background()); err == nil || !strings.Contains(err.Error(), "CLASSES is 3") {
		t.Fatalf("Evaluate() err=%v, want class mismatch", err)
	}
}
