// Package config loads service configuration by layering defaults, an
// optional YAML file, and VIGIL_-prefixed environment variables.
package config

import (
	"time"

	"github.com/skaldera/vigil/internal/detect"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/scoring"
)

// ScoringRule mirrors scoring.Rule for file/env unmarshalling.
type ScoringRule struct {
	PerOccurrence int `koanf:"per_occurrence"`
	Cap           int `koanf:"cap"`
}

// ClassConfig configures one debounced signal class.
type ClassConfig struct {
	Class         string   `koanf:"class"`
	Labels        []string `koanf:"labels"`
	MinConfidence float64  `koanf:"min_confidence"`
	PersistMS     int      `koanf:"persist_ms"`
	CooldownMS    int      `koanf:"cooldown_ms"`
}

// API holds runtime configuration for the API service.
type API struct {
	Environment         string                 `koanf:"environment"`
	Addr                string                 `koanf:"addr"`
	DatabaseURL         string                 `koanf:"database_url"`
	MigrationsDir       string                 `koanf:"migrations_dir"`
	JWTSecret           string                 `koanf:"jwt_secret"`
	AccessTokenTTLMin   int                    `koanf:"access_token_ttl_min"`
	RecordingDir        string                 `koanf:"recording_dir"`
	RateLimitRedisAddr  string                 `koanf:"rate_limit_redis_addr"`
	RateLimitRedisPass  string                 `koanf:"rate_limit_redis_password"`
	RateLimitRedisDB    int                    `koanf:"rate_limit_redis_db"`
	ReportTimelineLimit int                    `koanf:"report_timeline_limit"`
	ExportTimelineLimit int                    `koanf:"export_timeline_limit"`
	Scoring             map[string]ScoringRule `koanf:"scoring"`
}

// AccessTokenTTL returns the configured token lifetime.
func (c API) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RuleTable converts the configured scoring rules into the engine's table.
func (c API) RuleTable() scoring.RuleTable {
	if len(c.Scoring) == 0 {
		return scoring.DefaultRules()
	}
	table := make(scoring.RuleTable, len(c.Scoring))
	for name, rule := range c.Scoring {
		table[domain.EventType(name)] = scoring.Rule{PerOccurrence: rule.PerOccurrence, Cap: rule.Cap}
	}
	return table
}

// Agent holds runtime configuration for the proctoring agent.
type Agent struct {
	APIBaseURL       string        `koanf:"api_base_url"`
	CredentialsPath  string        `koanf:"credentials_path"`
	FrameIntervalMS  int           `koanf:"frame_interval_ms"`
	FlushIntervalMS  int           `koanf:"flush_interval_ms"`
	RecordingDir     string        `koanf:"recording_dir"`
	RecordingFormats []string      `koanf:"recording_formats"`
	CaptureDevice    string        `koanf:"capture_device"`
	InferenceURL     string        `koanf:"inference_url"`
	Classes          []ClassConfig `koanf:"classes"`
}

// FrameInterval returns the spacing between processed frames.
func (c Agent) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// FlushInterval returns the uplink flush spacing.
func (c Agent) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// ClassRules converts configured classes into engine rules, falling back to
// the stock rule set when the file configures none.
func (c Agent) ClassRules() []detect.ClassRule {
	if len(c.Classes) == 0 {
		return detect.DefaultRules()
	}
	rules := make([]detect.ClassRule, 0, len(c.Classes))
	for _, class := range c.Classes {
		rules = append(rules, detect.ClassRule{
			Class:         domain.EventType(class.Class),
			Labels:        class.Labels,
			MinConfidence: class.MinConfidence,
			PersistFor:    time.Duration(class.PersistMS) * time.Millisecond,
			Cooldown:      time.Duration(class.CooldownMS) * time.Millisecond,
		})
	}
	return rules
}

// NewAPI returns API defaults before file/env layering.
func NewAPI() *API {
	return &API{
		Environment:         "development",
		Addr:                ":4000",
		DatabaseURL:         "postgres://vigil:vigil@db:5432/vigil?sslmode=disable",
		MigrationsDir:       "db/migrations",
		JWTSecret:           "supersecuresecret",
		AccessTokenTTLMin:   60,
		RecordingDir:        "/var/lib/vigil/recordings",
		ReportTimelineLimit: 50,
		ExportTimelineLimit: 200,
	}
}

// NewAgent returns agent defaults before file/env layering.
func NewAgent() *Agent {
	return &Agent{
		APIBaseURL:       "http://localhost:4000",
		FrameIntervalMS:  500,
		FlushIntervalMS:  3000,
		RecordingDir:     ".",
		RecordingFormats: []string{"webm", "mp4", "mkv"},
		CaptureDevice:    "/dev/video0",
		InferenceURL:     "http://localhost:9090/detect",
	}
}
