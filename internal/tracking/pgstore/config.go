package pgstore

import (
	"os"
	"strings"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
)

type Config struct {
	Experiment   string
	Actor        string
	EnsureSchema bool
}

func ConfigFromEnv() (Config, error) {
	ensure, err := env.Bool("TRACKING_DATABASE_ENSURE_SCHEMA", true)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Experiment:   env.String("TRACKING_EXPERIMENT_NAME", "Default"),
		Actor:        env.String("TRACKING_ACTOR", defaultActor()),
		EnsureSchema: ensure,
	}, nil
}

func defaultActor() string {
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "evaluation"
}
