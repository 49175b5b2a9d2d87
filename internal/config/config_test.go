package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "hotline"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "hotline", "hotline-api"
	c.Twilio.AuthToken = "s"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.App.Storage != StoragePostgres {
		t.Fatalf("expected postgres storage default, got %q", c.App.Storage)
	}
	if c.Session.MaxSilence != 10*time.Second || c.Session.MaxDuration != 1800*time.Second {
		t.Fatalf("unexpected session defaults: %+v", c.Session)
	}
	if c.Session.LanguageCode != "ar-EG" {
		t.Fatalf("expected ar-EG default, got %q", c.Session.LanguageCode)
	}
}

func TestValidate_MemoryStorageSkipsDB(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "dev", Port: 8080, Storage: StorageMemory},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected memory storage to be rejected in production")
	}
}

func TestValidate_StoreTTLMustCoverSession(t *testing.T) {
	c := validLocal()
	c.Session.MaxDuration = time.Hour
	c.Session.StoreTTL = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected ttl error")
	}
}

func TestParseNumberTenants(t *testing.T) {
	m, err := parseNumberTenants(" +15550001=tenant-a, +15550002 = tenant-b ")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m["+15550001"] != "tenant-a" || m["+15550002"] != "tenant-b" {
		t.Fatalf("unexpected map: %v", m)
	}
	if _, err := parseNumberTenants("+15550001"); err == nil {
		t.Fatalf("expected error for entry without tenant")
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := "APP_ENV=dev\nAPP_PORT=9090\nSTORAGE_BACKEND=memory\nJWT_SECRET=s\nSESSION_TENANT_LIMIT=4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	// Real env wins over the file.
	t.Setenv("APP_PORT", "7070")
	for _, k := range []string{"APP_ENV", "STORAGE_BACKEND", "JWT_SECRET", "SESSION_TENANT_LIMIT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 7070 {
		t.Fatalf("expected env to override file, got %d", c.App.Port)
	}
	if c.Session.TenantLiveLimit != 4 {
		t.Fatalf("expected limit from file, got %d", c.Session.TenantLiveLimit)
	}
}

func TestLoadEnvFile_MissingIsIgnored(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	if err := LoadEnvFile(); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}
