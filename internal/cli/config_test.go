package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Sentinel(t *testing.T) {
	t.Setenv("AELITA_UI_TYPE", "github")
	t.Setenv("AELITA_VCS_TYPE", "git")
	t.Setenv("AELITA_REPO", "octo/widgets")

	cfg, err := loadConfig(sentinelEnv)
	if err != nil {
		t.Fatalf("loadConfig(-12): %v", err)
	}
	if len(cfg.Pipelines) != 1 || cfg.Pipelines[0].Repo != "octo/widgets" {
		t.Fatalf("expected env-derived single pipeline, got %#v", cfg.Pipelines)
	}
}

func TestLoadConfig_FilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aelitaqueue.yaml")
	yamlBody := `
store:
  backend: file
  path: ./queue-data
pipelines:
  - id: 1
    name: widgets
    repo: octo/widgets
    ui:
      type: github
      secret: s3cr3t
    vcs:
      type: git
      repo_dir: /repo
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(path): %v", err)
	}
	if len(cfg.Pipelines) != 1 || cfg.Pipelines[0].Name != "widgets" {
		t.Fatalf("expected parsed pipeline, got %#v", cfg.Pipelines)
	}
}
