package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
)

const testSecret = "test-secret-for-development-only"

// clearSecretEnv keeps a developer's SECRET_KEY out of the tests.
func clearSecretEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SECRET_KEY", "")
	t.Setenv("LIFXD_SECRET_KEY", "")
	t.Setenv(configEnv, "")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, apiPort int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
api:
  host: "127.0.0.1"
  port: %d
security:
  secret_key: %q
gateway:
  bind: "127.0.0.1:0"
discovery:
  auto_enabled: false
  listen_window: 100ms
  disable_broadcast: true
  targets: ["127.0.0.1:56700"]
mqtt:
  enabled: false
influxdb:
  enabled: false
mdns:
  enabled: false
logging:
  level: warn
  format: text
  output: stderr
`, apiPort, testSecret)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	clearSecretEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingSecret(t *testing.T) {
	clearSecretEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "")
	if err == nil || !strings.Contains(err.Error(), "secret_key") {
		t.Fatalf("run() error = %v, want missing secret_key", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	clearSecretEnv(t)
	port := freePort(t)
	path := writeConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL) //nolint:noctx // test polling loop
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API never came up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := getConfigPath(""); got != "" {
		t.Errorf("getConfigPath() = %q, want empty", got)
	}

	t.Setenv(configEnv, "/etc/lifxd/env.yaml")
	if got := getConfigPath(""); got != "/etc/lifxd/env.yaml" {
		t.Errorf("getConfigPath() = %q, want env path", got)
	}
	if got := getConfigPath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want flag path", got)
	}
}

func TestRateRules(t *testing.T) {
	rules := rateRules(config.RateLimitConfig{
		AuthFailures:  3,
		AuthWindow:    time.Minute,
		ConfigChanges: 7,
		ConfigWindow:  time.Hour,
	})
	if got := rules[ratelimit.KindAuth]; got != (ratelimit.Rule{Limit: 3, Window: time.Minute}) {
		t.Errorf("auth rule = %+v", got)
	}
	if got := rules[ratelimit.KindConfig]; got != (ratelimit.Rule{Limit: 7, Window: time.Hour}) {
		t.Errorf("config rule = %+v", got)
	}
}

func TestFlushInterval(t *testing.T) {
	if got := flushInterval(config.InfluxDBConfig{}); got != 10*time.Second {
		t.Errorf("default = %v", got)
	}
	if got := flushInterval(config.InfluxDBConfig{FlushInterval: 2}); got != 2*time.Second {
		t.Errorf("configured = %v", got)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	clearSecretEnv(t)
	path := writeConfig(t, 8000)

	out, err := execute(t, "--config", path, "token", "--subject", "panel", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != "panel" || claims.ExpiresAt == nil {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenCommand_NoSecret(t *testing.T) {
	clearSecretEnv(t)
	if _, err := execute(t, "token"); err == nil {
		t.Fatal("token without a secret should fail")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "lifxd "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := execute(t, "frobnicate"); err == nil {
		t.Fatal("unknown command should fail")
	}
}
