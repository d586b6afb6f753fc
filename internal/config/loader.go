package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Order of precedence (low -> high):
//  1. defaults (NewAPI / NewAgent)
//  2. file (YAML) if VIGIL_CONFIG is set
//  3. env (prefix VIGIL_)

// LoadAPI builds the API configuration.
func LoadAPI() (*API, error) {
	cfg := *NewAPI()
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url must not be empty")
	}
	return &cfg, nil
}

// LoadAgent builds the agent configuration.
func LoadAgent() (*Agent, error) {
	cfg := *NewAgent()
	if err := load(&cfg); err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api_base_url must not be empty")
	}
	if cfg.FrameIntervalMS <= 0 {
		return nil, errors.New("frame_interval_ms must be positive")
	}
	return &cfg, nil
}

func load(target any) error {
	k := koanf.New(".")

	if path := os.Getenv("VIGIL_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return err
		}
	}

	// Map env keys like VIGIL_DATABASE_URL -> database_url (flat keys),
	// preserving underscores to match koanf tags on the structs.
	envProvider := env.Provider("VIGIL_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "vigil_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return err
	}

	return k.UnmarshalWithConf("", target, koanf.UnmarshalConf{Tag: "koanf"})
}
