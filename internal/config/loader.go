package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a queue configuration from the given YAML file
// path, then applies defaults to fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a queue config in standard locations and loads
// the first one found. Search order: ./aelitaqueue.yaml, ~/.aelitaqueue/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"aelitaqueue.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".aelitaqueue", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no queue config found (searched: %v)", candidates)
}

// LoadEnv builds a single-pipeline Config from AELITA_-prefixed environment
// variables, per spec.md §6's -12 CLI sentinel. It recognizes UI_TYPE,
// CI_TYPE, VCS_TYPE, PIPELINE_DB, PROJECT_DB, plus per-adapter
// listen/host/token/user/secret keys, all under the AELITA_ prefix.
func LoadEnv() (*Config, error) {
	get := func(key string) string { return os.Getenv("AELITA_" + key) }

	cfg := &Config{
		Store: StoreConfig{
			Backend: envOr(get("PIPELINE_DB"), "file"),
			Path:    get("PROJECT_DB"),
			DSN:     get("PROJECT_DB"),
		},
		StatusAddr: envOr(get("STATUS_ADDR"), ":8080"),
	}

	pipeline := PipelineConfig{
		ID:   1,
		Name: envOr(get("PIPELINE_NAME"), "default"),
		Repo: get("REPO"),
		Ui: AdapterConfig{
			Type:   envOr(get("UI_TYPE"), "github"),
			Listen: get("UI_LISTEN"),
			Host:   get("UI_HOST"),
			Token:  get("UI_TOKEN"),
			User:   get("UI_USER"),
			Secret: get("UI_SECRET"),
		},
		Vcs: AdapterConfig{
			Type:          envOr(get("VCS_TYPE"), "git"),
			Host:          get("VCS_HOST"),
			Token:         get("VCS_TOKEN"),
			Remote:        envOr(get("VCS_REMOTE"), "origin"),
			StagingBranch: envOr(get("VCS_STAGING_BRANCH"), "staging"),
			MasterBranch:  envOr(get("VCS_MASTER_BRANCH"), "master"),
			RepoDir:       get("VCS_REPO_DIR"),
		},
	}

	if ciType := get("CI_TYPE"); ciType != "" {
		var ciID int64 = 1
		if v := get("CI_ID"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				ciID = parsed
			}
		}
		pipeline.Ci = []CiChannelConfig{{
			ID:      ciID,
			Type:    ciType,
			Listen:  get("CI_LISTEN"),
			Context: get("CI_CONTEXT"),
		}}
	}

	cfg.Pipelines = []PipelineConfig{pipeline}
	applyDefaults(cfg)
	return cfg, nil
}

func envOr(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

// applyDefaults fills in the queue-wide and per-pipeline defaults a bare
// config may omit: the store backend, and each Vcs binding's remote and
// branch names.
func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = ":8080"
	}

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Vcs.Remote == "" {
			p.Vcs.Remote = "origin"
		}
		if p.Vcs.StagingBranch == "" {
			p.Vcs.StagingBranch = "staging"
		}
		if p.Vcs.MasterBranch == "" {
			p.Vcs.MasterBranch = "master"
		}
	}
}
