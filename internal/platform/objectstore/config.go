package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
)

// Config points at the S3-compatible bucket that receives run artifacts.
type Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("ARTIFACT_STORE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	useSSL, err := env.Bool("ARTIFACT_STORE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:   enabled,
		Endpoint:  env.String("ARTIFACT_STORE_ENDPOINT", "localhost:9000"),
		AccessKey: env.FirstString("", "ARTIFACT_STORE_ACCESS_KEY", "AWS_ACCESS_KEY_ID"),
		SecretKey: env.FirstString("", "ARTIFACT_STORE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"),
		Region:    env.String("ARTIFACT_STORE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("ARTIFACT_STORE_BUCKET", "mlflow-artifacts"),
		Prefix:    strings.Trim(env.String("ARTIFACT_STORE_PREFIX", "runs"), "/"),
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("artifact store endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("artifact store access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("artifact store secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("artifact store region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("artifact store bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
