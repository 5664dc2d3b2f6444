package objectstore

import "testing"

func TestConfigFromEnv_DisabledSkipsValidation(t *testing.T) {
	t.Setenv("ARTIFACT_STORE_ENABLED", "false")
	t.Setenv("ARTIFACT_STORE_ACCESS_KEY", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled {
		t.Fatalf("Enabled=true, want false")
	}
}

func TestConfigFromEnv_EnabledRequiresCredentials(t *testing.T) {
	t.Setenv("ARTIFACT_STORE_ENABLED", "true")
	t.Setenv("ARTIFACT_STORE_ACCESS_KEY", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigValidate_RejectsScheme(t *testing.T) {
	cfg := Config{
		Endpoint:  "http://localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "artifacts",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestObjectKey(t *testing.T) {
	got, err := ObjectKey("runs/", "run-1", "scores.json")
	if err != nil {
		t.Fatalf("ObjectKey() err=%v", err)
	}
	if got != "runs/run-1/scores.json" {
		t.Fatalf("ObjectKey()=%q, want runs/run-1/scores.json", got)
	}

	got, err = ObjectKey("", "run-1", "../../etc/passwd")
	if err != nil {
		t.Fatalf("ObjectKey() err=%v", err)
	}
	if got != "run-1/etc/passwd" {
		t.Fatalf("ObjectKey()=%q, want run-1/etc/passwd", got)
	}

	if _, err := ObjectKey("", "a/b", "x"); err == nil {
		t.Fatalf("expected run id error")
	}
	if _, err := ObjectKey("", "run-1", " "); err == nil {
		t.Fatalf("expected name error")
	}
}
