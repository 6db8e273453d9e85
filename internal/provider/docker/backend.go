// Package docker runs pipeline instances as detached containers on a Docker
// daemon. Pointing DOCKER_HOST (or the configured host) at a VM's daemon,
// e.g. ssh://ops@vm, makes that VM the remote compute instance.
package docker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"strings"
	"time"

	"vmorch/internal/runtime"
	"vmorch/pkg/provider"
)

// Name is the provider name used in configuration.
const Name = "docker"

// Launch option keys understood by this backend.
const (
	OptionName   = provider.OptionName
	OptionCPU    = "cpu"
	OptionMemory = "memory"
	labelPrefix  = "label."
	envPrefix    = "env."
)

// Engine is the container API the backend drives.
type Engine interface {
	PullImage(ctx context.Context, ref string) error
	RunContainer(ctx context.Context, opts runtime.RunOptions) (string, error)
	InspectContainer(ctx context.Context, id string) (runtime.ContainerState, error)
	ContainerLogs(ctx context.Context, id string, since, until time.Time) ([]runtime.LogLine, error)
}

// Backend implements provider.Backend on a Docker daemon.
type Backend struct {
	engine          Engine
	logsURLTemplate string
	logger          *slog.Logger
	now             func() time.Time

	current *launched
}

type launched struct {
	id     string
	name   string
	cursor time.Time
	// fetched is the end of the last window read from the daemon.
	fetched time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogsURLTemplate sets the log viewer URL. The placeholders {id} and
// {name} are replaced with the container ID and name.
func WithLogsURLTemplate(tmpl string) Option {
	return func(b *Backend) { b.logsURLTemplate = tmpl }
}

// WithClock overrides the time source used for log windows.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a Docker backend.
func New(engine Engine, logger *slog.Logger, opts ...Option) *Backend {
	b := &Backend{engine: engine, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

// Launch pulls the image and starts a detached container running the
// command followed by the arguments.
func (b *Backend) Launch(ctx context.Context, req provider.LaunchRequest) (provider.InstanceView, error) {
	if req.Image == "" {
		return provider.InstanceView{}, provider.NewLaunchError(Name, "image reference is empty", nil)
	}

	if err := b.engine.PullImage(ctx, req.Image); err != nil {
		return provider.InstanceView{}, provider.NewLaunchError(Name, "image pull failed", err)
	}

	labels := map[string]string{}
	env := map[string]string{}
	for k, v := range req.Options {
		switch {
		case strings.HasPrefix(k, labelPrefix):
			labels[strings.TrimPrefix(k, labelPrefix)] = v
		case strings.HasPrefix(k, envPrefix):
			env[strings.TrimPrefix(k, envPrefix)] = v
		}
	}

	name := containerName(req.Options[OptionName])
	id, err := b.engine.RunContainer(ctx, runtime.RunOptions{
		Name:    name,
		Image:   req.Image,
		Command: append(append([]string(nil), req.Command...), req.Arguments...),
		Env:     env,
		Labels:  maps.Clone(labels),
		CPUs:    req.Options[OptionCPU],
		Memory:  req.Options[OptionMemory],
	})
	if err != nil {
		return provider.InstanceView{}, provider.NewLaunchError(Name, "container start failed", err)
	}

	if name == "" {
		name = shortID(id)
	}
	b.current = &launched{id: id, name: name}
	b.logger.Debug("Container started", "id", shortID(id), "name", name)
	return provider.InstanceView{ID: id, Name: name, Status: provider.StatusPending}, nil
}

// Instance inspects the most recently launched container.
func (b *Backend) Instance(ctx context.Context) (provider.InstanceView, error) {
	if b.current == nil {
		return provider.InstanceView{}, provider.ErrNotFound
	}

	state, err := b.engine.InspectContainer(ctx, b.current.id)
	if err != nil {
		return provider.InstanceView{}, classify(ctx, err)
	}
	return provider.InstanceView{
		ID:     b.current.id,
		Name:   b.current.name,
		Status: MapStatus(state.Status, state.ExitCode),
	}, nil
}

// LogsURL expands the configured template for the current container.
func (b *Backend) LogsURL(context.Context) (string, bool) {
	if b.current == nil || b.logsURLTemplate == "" {
		return "", false
	}
	r := strings.NewReplacer("{id}", b.current.id, "{name}", b.current.name)
	return r.Replace(b.logsURLTemplate), true
}

// StreamLogs yields the lines logged in [now-window, now) that have not been
// yielded before. When the previous window ended before now-window, the
// read starts there instead, so consecutive calls leave no gap.
func (b *Backend) StreamLogs(ctx context.Context, window time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cur := b.current
		if cur == nil {
			return
		}
		now := b.now()
		since := now.Add(-window)
		if !cur.fetched.IsZero() && cur.fetched.Before(since) {
			since = cur.fetched
		}
		lines, err := b.engine.ContainerLogs(ctx, cur.id, since, now)
		if err != nil {
			yield("", classify(ctx, err))
			return
		}
		cur.fetched = now
		for _, l := range lines {
			if !l.Time.IsZero() {
				if !l.Time.Before(now) || !l.Time.After(cur.cursor) {
					continue
				}
				cur.cursor = l.Time
			}
			if !yield(l.Text, nil) {
				return
			}
		}
	}
}

// MapStatus converts a Docker container state into a provider status.
func MapStatus(state string, exitCode int) provider.Status {
	switch state {
	case "created":
		return provider.StatusPending
	case "running", "restarting", "paused":
		return provider.StatusRunning
	case "exited":
		if exitCode == 0 {
			return provider.StatusSucceeded
		}
		return provider.StatusFailed
	case "dead":
		return provider.StatusFailed
	case "removing":
		return provider.StatusStopped
	default:
		return provider.StatusUnknown
	}
}

// classify maps engine errors onto the provider error contract. Anything
// other than a missing container or a cancelled context is a daemon
// connectivity problem and worth retrying.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, runtime.ErrContainerNotFound):
		return fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	case ctx.Err() != nil:
		return err
	default:
		return provider.Transient(err)
	}
}

func containerName(runName string) string {
	if runName == "" {
		return ""
	}
	var sb strings.Builder
	for _, r := range runName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return "vmorch-" + sb.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
