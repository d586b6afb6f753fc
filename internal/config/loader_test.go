package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skaldera/vigil/internal/domain"
)

func TestLoadAPIDefaults(t *testing.T) {
	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":4000" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.AccessTokenTTL() != time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.AccessTokenTTL())
	}
	if cfg.ReportTimelineLimit != 50 || cfg.ExportTimelineLimit != 200 {
		t.Fatalf("unexpected timeline limits: %d/%d", cfg.ReportTimelineLimit, cfg.ExportTimelineLimit)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VIGIL_ADDR", ":9999")
	t.Setenv("VIGIL_JWT_SECRET", "env-secret")

	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("env addr not applied: %q", cfg.Addr)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("env secret not applied: %q", cfg.JWTSecret)
	}
}

func TestFileLayeredUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	content := []byte("addr: \":7000\"\njwt_secret: file-secret\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VIGIL_CONFIG", path)
	t.Setenv("VIGIL_ADDR", ":8000")

	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Fatalf("env must beat file, got %q", cfg.Addr)
	}
	if cfg.JWTSecret != "file-secret" {
		t.Fatalf("file value must beat default, got %q", cfg.JWTSecret)
	}
}

func TestScoringOverridesBuildRuleTable(t *testing.T) {
	cfg := API{Scoring: map[string]ScoringRule{
		"PHONE_DETECTED": {PerOccurrence: 20, Cap: 40},
	}}
	table := cfg.RuleTable()
	rule, ok := table[domain.EventPhoneDetected]
	if !ok {
		t.Fatal("expected configured rule")
	}
	if rule.PerOccurrence != 20 || rule.Cap != 40 {
		t.Fatalf("unexpected rule: %+v", rule)
	}
}

func TestAgentClassRulesFallBackToDefaults(t *testing.T) {
	cfg := Agent{}
	if len(cfg.ClassRules()) == 0 {
		t.Fatal("expected stock rules when none configured")
	}

	cfg.Classes = []ClassConfig{{
		Class:         "PHONE_DETECTED",
		Labels:        []string{"cell phone"},
		MinConfidence: 0.7,
		PersistMS:     2000,
		CooldownMS:    30000,
	}}
	rules := cfg.ClassRules()
	if len(rules) != 1 {
		t.Fatalf("expected one configured rule, got %d", len(rules))
	}
	if rules[0].PersistFor != 2*time.Second || rules[0].Cooldown != 30*time.Second {
		t.Fatalf("unexpected durations: %+v", rules[0])
	}
}
