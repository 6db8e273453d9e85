// Package config loads orchestrator settings from an optional YAML file,
// VMORCH_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. VMORCH_POLL_INTERVAL.
const EnvPrefix = "VMORCH"

// Config holds the orchestrator settings.
type Config struct {
	Provider     string        `mapstructure:"provider" validate:"required,oneof=docker gitlab"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	LogLevel     string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	StateFile    string        `mapstructure:"state_file" validate:"required"`
	RetainState  bool          `mapstructure:"retain_state"`
	Retry        Retry         `mapstructure:"retry"`
	Entrypoint   Entrypoint    `mapstructure:"entrypoint"`
	Docker       Docker        `mapstructure:"docker"`
	GitLab       GitLab        `mapstructure:"gitlab"`
	Metrics      Metrics       `mapstructure:"metrics"`
}

// Retry bounds the retries of transient polling errors.
type Retry struct {
	MaxRetries      uint64        `mapstructure:"max_retries" validate:"max=20"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"min=0"`
}

// Entrypoint is the fixed command every instance executes.
type Entrypoint struct {
	Command []string `mapstructure:"command" validate:"min=1,dive,required"`
}

// Docker configures the Docker host backend and the image builder.
type Docker struct {
	// Host overrides DOCKER_HOST, e.g. ssh://ops@build-vm.
	Host string `mapstructure:"host"`
	// LogsURLTemplate renders a log viewer link; {id} and {name} are
	// replaced by the container ID and name.
	LogsURLTemplate string `mapstructure:"logs_url_template"`
	// RegistryUser and RegistryPassword authenticate image pushes.
	RegistryUser     string `mapstructure:"registry_user"`
	RegistryPassword string `mapstructure:"registry_password"`
}

// GitLab configures the GitLab CI backend.
type GitLab struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	Project      string `mapstructure:"project"`
	Ref          string `mapstructure:"ref"`
	TriggerToken string `mapstructure:"trigger_token"`
	Token        string `mapstructure:"token"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "docker")
	v.SetDefault("poll_interval", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("state_file", ".vmorch.state.json")
	v.SetDefault("retain_state", false)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("entrypoint.command", []string{"pipeline-entrypoint"})
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.logs_url_template", "")
	v.SetDefault("docker.registry_user", "")
	v.SetDefault("docker.registry_password", "")
	v.SetDefault("gitlab.url", "https://gitlab.com")
	v.SetDefault("gitlab.project", "")
	v.SetDefault("gitlab.ref", "main")
	v.SetDefault("gitlab.trigger_token", "")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and provider-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Provider == "gitlab" {
		var missing []string
		if c.GitLab.Project == "" {
			missing = append(missing, "gitlab.project")
		}
		if c.GitLab.TriggerToken == "" {
			missing = append(missing, "gitlab.trigger_token")
		}
		if c.GitLab.Token == "" {
			missing = append(missing, "gitlab.token")
		}
		if len(missing) > 0 {
			return fmt.Errorf("invalid configuration: gitlab provider requires %s", strings.Join(missing, ", "))
		}
	}
	return nil
}
