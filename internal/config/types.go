package config

// Config is the top-level configuration structure parsed from the queue's
// YAML config file: which Queue Store backend to use, and one entry per
// configured pipeline describing its adapter bindings.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
	// StatusAddr is the listen address for the read-only status view.
	StatusAddr string `yaml:"status_addr"`
}

// StoreConfig selects and configures the Queue Store backend.
type StoreConfig struct {
	// Backend is "file", "sqlite", or "postgres".
	Backend string `yaml:"backend"`
	// Path is the base directory for the file backend, or the database
	// file for the sqlite backend.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// PipelineConfig describes one configured pipeline: its identity, its
// review-surface (Ui) and version-control (Vcs) adapter bindings, and the
// set of CI channels it waits on before moving staging to master.
type PipelineConfig struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Repo string `yaml:"repo"`

	Ui  AdapterConfig     `yaml:"ui"`
	Vcs AdapterConfig     `yaml:"vcs"`
	Ci  []CiChannelConfig `yaml:"ci"`
}

// AdapterConfig configures a Ui or Vcs adapter binding. Not every field
// applies to every adapter type; fields unused by the selected Type are
// simply left zero.
type AdapterConfig struct {
	// Type selects the concrete adapter, e.g. "github" or "git".
	Type string `yaml:"type"`

	Listen string `yaml:"listen"`
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	User   string `yaml:"user"`
	Secret string `yaml:"secret"`

	Remote        string `yaml:"remote"`
	StagingBranch string `yaml:"staging_branch"`
	MasterBranch  string `yaml:"master_branch"`
	RepoDir       string `yaml:"repo_dir"`
}

// CiChannelConfig configures one bound CI channel. A pipeline with zero CI
// channels completes as soon as the merge to staging succeeds, matching
// spec.md §4.4's allowance for CI-free pipelines.
type CiChannelConfig struct {
	ID int64 `yaml:"id"`
	// Type selects the concrete adapter, e.g. "github" or "buildbot".
	Type string `yaml:"type"`

	Listen  string `yaml:"listen"`
	Context string `yaml:"context"`
}
