package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
)

// Mode selects how requests to the tracking server are authenticated.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeToken Mode = "token"
	ModeBasic Mode = "basic"
	ModeOIDC  Mode = "oidc"
)

type Config struct {
	Mode Mode

	Token string

	Username string
	Password string

	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string
}

// ConfigFromEnv picks the mode from TRACKING_AUTH_MODE, or infers it from
// whichever credentials are present: a DagsHub user token, then an MLflow
// username/password pair, else none.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Token:            env.FirstString("", "DAGSHUB_USER_TOKEN", "MLFLOW_TRACKING_TOKEN"),
		Username:         env.String("MLFLOW_TRACKING_USERNAME", ""),
		Password:         env.String("MLFLOW_TRACKING_PASSWORD", ""),
		OIDCIssuerURL:    strings.TrimSpace(env.String("TRACKING_OIDC_ISSUER_URL", "")),
		OIDCClientID:     strings.TrimSpace(env.String("TRACKING_OIDC_CLIENT_ID", "")),
		OIDCClientSecret: env.String("TRACKING_OIDC_CLIENT_SECRET", ""),
		OIDCScopes:       env.List("TRACKING_OIDC_SCOPES", nil),
	}

	modeRaw := strings.ToLower(strings.TrimSpace(env.String("TRACKING_AUTH_MODE", "")))
	switch modeRaw {
	case "":
		switch {
		case strings.TrimSpace(cfg.Token) != "":
			cfg.Mode = ModeToken
		case strings.TrimSpace(cfg.Username) != "" && cfg.Password != "":
			cfg.Mode = ModeBasic
		default:
			cfg.Mode = ModeNone
		}
	case string(ModeNone), string(ModeToken), string(ModeBasic), string(ModeOIDC):
		cfg.Mode = Mode(modeRaw)
	default:
		return Config{}, fmt.Errorf("TRACKING_AUTH_MODE unsupported: %q", modeRaw)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeNone:
		return nil
	case ModeToken:
		if strings.TrimSpace(c.Token) == "" {
			return errors.New("DAGSHUB_USER_TOKEN is required for token auth")
		}
	case ModeBasic:
		if strings.TrimSpace(c.Username) == "" {
			return errors.New("MLFLOW_TRACKING_USERNAME is required for basic auth")
		}
		if c.Password == "" {
			return errors.New("MLFLOW_TRACKING_PASSWORD is required for basic auth")
		}
	case ModeOIDC:
		if c.OIDCIssuerURL == "" {
			return errors.New("TRACKING_OIDC_ISSUER_URL is required for oidc auth")
		}
		if c.OIDCClientID == "" {
			return errors.New("TRACKING_OIDC_CLIENT_ID is required for oidc auth")
		}
		if c.OIDCClientSecret == "" {
			return errors.New("TRACKING_OIDC_CLIENT_SECRET is required for oidc auth")
		}
	default:
		return fmt.Errorf("auth mode unsupported: %q", c.Mode)
	}
	return nil
}
