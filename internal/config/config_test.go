package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Backpressure != "kick" || cfg.Server.RateLimit != 50 || cfg.Server.RateInterval != time.Second {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Call.NegotiationTimeout != 30*time.Second || !cfg.Call.Trickle || len(cfg.Call.ICEServers) != 2 {
		t.Fatalf("call = %+v", cfg.Call)
	}
	if cfg.Bus.Driver != "ws" || cfg.Store.Driver != "none" || cfg.Media.Driver != "synthetic" {
		t.Fatalf("drivers = %s %s %s", cfg.Bus.Driver, cfg.Store.Driver, cfg.Media.Driver)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringcall.yaml")
	yaml := `
log_level: debug
server:
  port: 9000
  secret: file-secret
call:
  negotiation_timeout: 10s
  trickle: false
agent:
  self_id: a1
  auto_answer: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RINGCALL_CONFIG", path)
	t.Setenv("RINGCALL_SERVER_PORT", "9100")
	t.Setenv("RINGCALL_BUS_TOKEN", "env-token")

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Server.Secret != "file-secret" || cfg.Bus.Token != "env-token" {
		t.Fatalf("secret=%q token=%q", cfg.Server.Secret, cfg.Bus.Token)
	}
	if cfg.Call.NegotiationTimeout != 10*time.Second || cfg.Call.Trickle {
		t.Fatalf("call = %+v", cfg.Call)
	}
	if cfg.Agent.SelfID != "a1" || !cfg.Agent.AutoAnswer || cfg.LogLevel != "debug" {
		t.Fatalf("agent = %+v level=%s", cfg.Agent, cfg.LogLevel)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  driver: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RINGCALL_CONFIG", path)
	if _, _, err := Load(); err == nil {
		t.Fatal("invalid bus driver accepted")
	}
}

func TestApplyLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	ApplyLogLevel("warn")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %s", zerolog.GlobalLevel())
	}
	ApplyLogLevel("nonsense")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s", zerolog.GlobalLevel())
	}
}
