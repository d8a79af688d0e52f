package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapLookup(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":    "postgres://irontrack@localhost/irontrack",
		"JWT_PRIVATE_KEY": "placeholder-key",
	}
}

func TestLoadDefaults(t *testing.T) {
	s, err := load("", mapLookup(baseEnv()))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if s.HTTPAddr != ":8080" || s.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected addresses %+v", s)
	}
	if s.LogLevel != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", s.LogLevel)
	}
	if s.Engine.JWT.AccessTTL != 30*time.Minute || s.Engine.Password.Parallelism != 1 {
		t.Fatalf("expected engine defaults, got %+v", s.Engine.JWT)
	}
	if !s.Engine.Metrics.Enabled {
		t.Fatal("expected metrics on by default for the server")
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["IRONAUTH_ACCESS_TTL"] = "10m"
	env["IRONAUTH_HASH_WORKERS"] = "3"
	env["IRONAUTH_ROTATE_REFRESH"] = "false"
	env["IRONAUTH_SYSTEM_ADMIN_EMAIL"] = "root@irontrack.app"
	env["IRONAUTH_REFRESH_COOKIE_PATH"] = "/auth"
	env["LOG_LEVEL"] = "debug"

	s, err := load("", mapLookup(env))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	cfg := s.Engine
	if cfg.JWT.AccessTTL != 10*time.Minute {
		t.Fatalf("expected 10m access TTL, got %v", cfg.JWT.AccessTTL)
	}
	if cfg.HasherPool.Workers != 3 || cfg.Auth.RotateRefreshTokens {
		t.Fatalf("unexpected overrides %+v %+v", cfg.HasherPool, cfg.Auth)
	}
	if cfg.Auth.SystemAdminEmail != "root@irontrack.app" || cfg.Cookie.RefreshPath != "/auth" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Auth, cfg.Cookie)
	}
	if s.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", s.LogLevel)
	}
}

func TestLoadReportsEveryMalformedVariable(t *testing.T) {
	env := baseEnv()
	delete(env, "DATABASE_URL")
	env["IRONAUTH_ACCESS_TTL"] = "soon"
	env["IRONAUTH_HASH_WORKERS"] = "-2"
	env["IRONAUTH_COOKIE_SECURE"] = "maybe"

	_, err := load("", mapLookup(env))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"DATABASE_URL", "IRONAUTH_ACCESS_TTL", "IRONAUTH_HASH_WORKERS", "IRONAUTH_COOKIE_SECURE"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestLoadValidatesEngineConfig(t *testing.T) {
	env := baseEnv()
	env["IRONAUTH_REFRESH_TTL"] = "1m"

	if _, err := load("", mapLookup(env)); err == nil || !strings.Contains(err.Error(), "engine config") {
		t.Fatalf("expected engine config error, got %v", err)
	}
}

func TestLoadReadsDotEnvUnderEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://from-file/irontrack\nJWT_PRIVATE_KEY=file-key\nIRONAUTH_HTTP_ADDR=:9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	env := map[string]string{"IRONAUTH_HTTP_ADDR": ":7070"}
	s, err := load(path, mapLookup(env))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.DatabaseURL != "postgres://from-file/irontrack" {
		t.Fatalf("expected database url from file, got %q", s.DatabaseURL)
	}
	if s.HTTPAddr != ":7070" {
		t.Fatalf("expected environment to win over file, got %q", s.HTTPAddr)
	}
	if string(s.Engine.JWT.PrivateKey) != "file-key" {
		t.Fatalf("unexpected key %q", s.Engine.JWT.PrivateKey)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.env")
	if _, err := load(path, mapLookup(baseEnv())); err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestLoadKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing.jwk")
	if err := os.WriteFile(keyPath, []byte(`{"kty":"OKP"}`), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	env := baseEnv()
	delete(env, "JWT_PRIVATE_KEY")
	env["JWT_PRIVATE_KEY_FILE"] = keyPath

	s, err := load("", mapLookup(env))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(s.Engine.JWT.PrivateKey) != `{"kty":"OKP"}` {
		t.Fatalf("unexpected key %q", s.Engine.JWT.PrivateKey)
	}
}

func TestLoadHashAndProxySettings(t *testing.T) {
	env := baseEnv()
	env["IRONAUTH_HASH_PARALLELISM"] = "4"
	env["IRONAUTH_HASH_SALT_LENGTH"] = "24"
	env["IRONAUTH_HASH_KEY_LENGTH"] = "48"
	env["IRONAUTH_HASH_SUBMIT_TIMEOUT"] = "750ms"
	env["IRONAUTH_TRUSTED_PROXIES"] = "10.0.0.0/8, 192.0.2.10"

	s, err := load("", mapLookup(env))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	pw := s.Engine.Password
	if pw.Parallelism != 4 || pw.SaltLength != 24 || pw.KeyLength != 48 {
		t.Fatalf("unexpected password settings %+v", pw)
	}
	if s.Engine.HasherPool.SubmitTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms submit timeout, got %v", s.Engine.HasherPool.SubmitTimeout)
	}
	if len(s.TrustedProxies) != 2 || s.TrustedProxies[1].String() != "192.0.2.10/32" {
		t.Fatalf("unexpected trusted proxies %v", s.TrustedProxies)
	}
}

func TestLoadRejectsBadHashAndProxySettings(t *testing.T) {
	env := baseEnv()
	env["IRONAUTH_HASH_PARALLELISM"] = "256"
	env["IRONAUTH_TRUSTED_PROXIES"] = "proxy.internal"

	_, err := load("", mapLookup(env))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"IRONAUTH_HASH_PARALLELISM", "IRONAUTH_TRUSTED_PROXIES"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}

	env = baseEnv()
	env["IRONAUTH_HASH_PARALLELISM"] = "0"
	if _, err := load("", mapLookup(env)); err == nil || !strings.Contains(err.Error(), "IRONAUTH_HASH_PARALLELISM") {
		t.Fatalf("expected zero parallelism to be rejected, got %v", err)
	}
}

func TestLoadRejectsNegativeSubmitTimeout(t *testing.T) {
	env := baseEnv()
	env["IRONAUTH_HASH_SUBMIT_TIMEOUT"] = "-1s"

	if _, err := load("", mapLookup(env)); err == nil || !strings.Contains(err.Error(), "SubmitTimeout") {
		t.Fatalf("expected submit timeout error, got %v", err)
	}
}
