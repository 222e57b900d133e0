package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the wheelforge manifest. A missing or malformed
// manifest is a fatal startup error for the caller.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for wheelforge.yaml inside
		absPath = filepath.Join(absPath, "wheelforge.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but wheelforge.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	applyDefaults(&cfg)

	// Verify integrity if a checksum manifest sits beside the config.
	if err := verifyChecksums(absPath); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func expandEnvVars(in string) string {
	return envVarPattern.ReplaceAllStringFunc(in, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Source.Owner == "" {
		cfg.Source.Owner = "microsoft"
	}
	if cfg.Source.Repo == "" {
		cfg.Source.Repo = "DeepSpeed"
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "deepspeed"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Log.BuildLog == "" {
		cfg.Log.BuildLog = "deepspeed_build.log"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8844"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "wheelforge_history.db"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Versions) == 0 {
		return fmt.Errorf("versions map is empty; list at least one buildable version")
	}
	for v := range cfg.Versions {
		if v == "" {
			return fmt.Errorf("versions map contains an empty version key")
		}
	}
	return nil
}
