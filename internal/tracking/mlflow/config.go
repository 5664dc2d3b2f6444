package mlflow

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
)

const dagshubHost = "https://dagshub.com"

type Config struct {
	// TrackingURI wins over the DagsHub owner/name pair when set.
	TrackingURI    string
	RepoOwner      string
	RepoName       string
	Experiment     string
	RequestTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("TRACKING_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		TrackingURI:    env.String("MLFLOW_TRACKING_URI", ""),
		RepoOwner:      env.String("DAGSHUB_REPO_OWNER", "venkateshpabbati"),
		RepoName:       env.String("DAGSHUB_REPO_NAME", "Kidney-Disease-Classification"),
		Experiment:     env.String("MLFLOW_EXPERIMENT_NAME", ""),
		RequestTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.TrackingURI) == "" {
		if strings.TrimSpace(c.RepoOwner) == "" || strings.TrimSpace(c.RepoName) == "" {
			return errors.New("MLFLOW_TRACKING_URI or DAGSHUB_REPO_OWNER and DAGSHUB_REPO_NAME are required")
		}
	} else if _, err := c.BaseURL(); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return errors.New("TRACKING_REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// BaseURL is the tracking server root, e.g.
// https://dagshub.com/<owner>/<name>.mlflow.
func (c Config) BaseURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.TrackingURI)
	if raw == "" {
		raw = fmt.Sprintf("%s/%s/%s.mlflow", dagshubHost, url.PathEscape(strings.TrimSpace(c.RepoOwner)), url.PathEscape(strings.TrimSpace(c.RepoName)))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse tracking uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tracking uri must be http(s): %q", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tracking uri host is required: %q", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}
