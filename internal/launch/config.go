package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is hpcrun's YAML configuration.
type Config struct {
	Rendezvous struct {
		Port int `yaml:"port"`
	} `yaml:"rendezvous"`
	// Scheduler forces a kind instead of auto-detection.
	Scheduler string `yaml:"scheduler"`
	History   struct {
		Path     string `yaml:"path"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"history"`
	SSH struct {
		User        string `yaml:"user"`
		KeyPath     string `yaml:"key_path"`
		KnownHosts  string `yaml:"known_hosts"`
		Port        int    `yaml:"port"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"ssh"`
	Systems []SystemProfile `yaml:"systems"`
}

// SystemProfile carries machine-specific tuning: an environment pack for
// the launched job, extra launcher flags, and the site's preferred
// scheduler. Profiles are matched against the local hostname.
type SystemProfile struct {
	Name              string            `yaml:"name"`
	Match             string            `yaml:"match"`
	Scheduler         string            `yaml:"scheduler"`
	GPUsPerNode       int               `yaml:"gpus_per_node"`
	MaxGPUMemFraction float64           `yaml:"max_gpu_mem_fraction"`
	Env               map[string]string `yaml:"env"`
	LauncherFlags     []string          `yaml:"launcher_flags"`
}

// LoadConfig reads YAML configuration from a path. If path is empty, it
// resolves $XDG_CONFIG_HOME/hpcrun/config.yaml or ~/.config/hpcrun/config.yaml;
// a missing default file yields the zero config, while a missing explicit
// path is an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	explicit := path != ""
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "hpcrun", "config.yaml")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// MatchProfile returns the first system profile whose match glob covers the
// hostname. An empty match falls back to the profile name.
func (c Config) MatchProfile(hostname string) (SystemProfile, bool) {
	for _, p := range c.Systems {
		pattern := p.Match
		if pattern == "" {
			pattern = p.Name
		}
		if ok, err := filepath.Match(pattern, hostname); err == nil && ok {
			return p, true
		}
	}
	return SystemProfile{}, false
}

// ProfileEnv is the profile's environment pack plus the GPU memory cap
// export consumed by the training runtime.
func (p SystemProfile) ProfileEnv() map[string]string {
	env := map[string]string{}
	for k, v := range p.Env {
		env[k] = v
	}
	if p.MaxGPUMemFraction > 0 && p.MaxGPUMemFraction < 1 {
		env["HPCRUN_MAX_GPU_MEM_FRACTION"] = strconv.FormatFloat(p.MaxGPUMemFraction, 'f', -1, 64)
	}
	return env
}

// HistoryPath resolves the launch history database location.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "hpcrun", "history.db")
}
