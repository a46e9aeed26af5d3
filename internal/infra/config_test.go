package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("RUN_MAX_RETRIES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.RunMaxRetries != 2 {
		t.Fatalf("RunMaxRetries = %d, want 2", cfg.RunMaxRetries)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Fatalf("WorkerPollInterval = %s, want 2s", cfg.WorkerPollInterval)
	}
	if cfg.JWTSecret != DevJWTSecret {
		t.Fatalf("JWTSecret = %q, want the development secret", cfg.JWTSecret)
	}
	if len(cfg.PaidPlans) != 2 {
		t.Fatalf("PaidPlans = %#v", cfg.PaidPlans)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigRequiresJWTSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "mongo")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("GATED_KINDS", " content , ,thumbnail")
	got := getEnvList("GATED_KINDS", nil)
	if len(got) != 2 || got[0] != "content" || got[1] != "thumbnail" {
		t.Fatalf("getEnvList = %#v", got)
	}
}
