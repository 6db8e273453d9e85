package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.Provider)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(3), cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, []string{"pipeline-entrypoint"}, cfg.Entrypoint.Command)
	assert.Equal(t, ".vmorch.state.json", cfg.StateFile)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmorch.yaml")
	content := `
provider: gitlab
poll_interval: 30s
retry:
  max_retries: 5
entrypoint:
  command: ["python", "-m", "pipeline.entrypoint"]
gitlab:
  project: team/pipelines
  trigger_token: trigger-abc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("VMORCH_GITLAB_TOKEN", "glpat-env")
	t.Setenv("VMORCH_POLL_INTERVAL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gitlab", cfg.Provider)
	assert.Equal(t, 15*time.Second, cfg.PollInterval, "environment wins over the file")
	assert.Equal(t, uint64(5), cfg.Retry.MaxRetries)
	assert.Equal(t, []string{"python", "-m", "pipeline.entrypoint"}, cfg.Entrypoint.Command)
	assert.Equal(t, "team/pipelines", cfg.GitLab.Project)
	assert.Equal(t, "glpat-env", cfg.GitLab.Token)
	assert.Equal(t, "main", cfg.GitLab.Ref)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown provider",
			content: "provider: azure\n",
			errMsg:  "Provider",
		},
		{
			name:    "poll interval too short",
			content: "poll_interval: 100ms\n",
			errMsg:  "PollInterval",
		},
		{
			name:    "gitlab without project",
			content: "provider: gitlab\n",
			errMsg:  "gitlab.project",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vmorch.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
