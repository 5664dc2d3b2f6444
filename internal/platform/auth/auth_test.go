package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRACKING_AUTH_MODE",
		"DAGSHUB_USER_TOKEN",
		"MLFLOW_TRACKING_TOKEN",
		"MLFLOW_TRACKING_USERNAME",
		"MLFLOW_TRACKING_PASSWORD",
		"TRACKING_OIDC_ISSUER_URL",
		"TRACKING_OIDC_CLIENT_ID",
		"TRACKING_OIDC_CLIENT_SECRET",
	} {
		t.Setenv(key, "")
	}
}

func TestConfigFromEnv_InfersToken(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("DAGSHUB_USER_TOKEN", "tok")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeToken || cfg.Token != "tok" {
		t.Fatalf("cfg=%+v, want token mode", cfg)
	}
}

func TestConfigFromEnv_InfersBasic(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("MLFLOW_TRACKING_USERNAME", "user")
	t.Setenv("MLFLOW_TRACKING_PASSWORD", "pass")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeBasic {
		t.Fatalf("Mode=%q, want basic", cfg.Mode)
	}
}

func TestConfigFromEnv_DefaultsToNone(t *testing.T) {
	clearAuthEnv(t)
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeNone {
		t.Fatalf("Mode=%q, want none", cfg.Mode)
	}
}

func TestConfigFromEnv_OIDCRequiresIssuer(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("TRACKING_AUTH_MODE", "oidc")
	t.Setenv("TRACKING_OIDC_CLIENT_ID", "id")
	t.Setenv("TRACKING_OIDC_CLIENT_SECRET", "secret")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigFromEnv_UnknownMode(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("TRACKING_AUTH_MODE", "kerberos")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func echoAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func getAuthorization(t *testing.T, client *http.Client, url string) string {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	return string(buf[:n])
}

func TestHTTPClient_Token(t *testing.T) {
	srv := echoAuthServer(t)
	client, err := HTTPClient(context.Background(), Config{Mode: ModeToken, Token: "tok"}, srv.Client())
	if err != nil {
		t.Fatalf("HTTPClient() err=%v", err)
	}
	if got := getAuthorization(t, client, srv.URL); got != "Bearer tok" {
		t.Fatalf("Authorization=%q, want Bearer tok", got)
	}
}

func TestHTTPClient_Basic(t *testing.T) {
	srv := echoAuthServer(t)
	client, err := HTTPClient(context.Background(), Config{Mode: ModeBasic, Username: "user", Password: "pass"}, srv.Client())
	if err != nil {
		t.Fatalf("HTTPClient() err=%v", err)
	}
	if got := getAuthorization(t, client, srv.URL); got != "Basic dXNlcjpwYXNz" {
		t.Fatalf("Authorization=%q, want basic credentials", got)
	}
}

func TestHTTPClient_OIDCClientCredentials(t *testing.T) {
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/keys",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cc-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	issuer = srv.URL

	cfg := Config{Mode: ModeOIDC, OIDCIssuerURL: issuer, OIDCClientID: "eval", OIDCClientSecret: "secret"}
	client, err := HTTPClient(context.Background(), cfg, srv.Client())
	if err != nil {
		t.Fatalf("HTTPClient() err=%v", err)
	}
	if got := getAuthorization(t, client, srv.URL+"/echo"); got != "Bearer cc-token" {
		t.Fatalf("Authorization=%q, want Bearer cc-token", got)
	}
}

func TestHTTPClient_OIDCBadIssuer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	cfg := Config{Mode: ModeOIDC, OIDCIssuerURL: srv.URL, OIDCClientID: "eval", OIDCClientSecret: "secret"}
	if _, err := HTTPClient(context.Background(), cfg, srv.Client()); err == nil {
		t.Fatalf("expected discovery error")
	}
}
