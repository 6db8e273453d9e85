package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vmorch/internal/builder"
	"vmorch/internal/config"
	"vmorch/internal/preparer"
	"vmorch/internal/provider/docker"
	"vmorch/internal/provider/gitlab"
	"vmorch/internal/runtime"
	"vmorch/pkg/deployment"
	"vmorch/pkg/provider"
	"vmorch/pkg/stack"
)

// BackendFactory creates provider backends and the image builder from
// configuration. It owns the Docker clients it opens; call Close when done.
type BackendFactory struct {
	cfg    *config.Config
	logger *slog.Logger

	newRuntime func(ctx context.Context, host string) (*runtime.DockerRuntime, error)
	runtimes   []*runtime.DockerRuntime
}

// NewBackendFactory creates a factory for cfg.
func NewBackendFactory(cfg *config.Config, logger *slog.Logger) *BackendFactory {
	return &BackendFactory{cfg: cfg, logger: logger, newRuntime: runtime.NewDockerRuntime}
}

// Backend returns the backend named by the configured provider.
func (f *BackendFactory) Backend(ctx context.Context) (provider.Backend, error) {
	switch f.cfg.Provider {
	case docker.Name:
		rt, err := f.runtime(ctx, f.cfg.Docker.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker backend: %w", err)
		}
		return docker.New(rt, f.logger, docker.WithLogsURLTemplate(f.cfg.Docker.LogsURLTemplate)), nil
	case gitlab.Name:
		b, err := gitlab.New(gitlab.Config{
			URL:          f.cfg.GitLab.URL,
			Project:      f.cfg.GitLab.Project,
			Ref:          f.cfg.GitLab.Ref,
			TriggerToken: f.cfg.GitLab.TriggerToken,
			Token:        f.cfg.GitLab.Token,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitLab backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", f.cfg.Provider)
	}
}

// ImageBuilder returns a builder on the local Docker daemon.
func (f *BackendFactory) ImageBuilder(ctx context.Context) (preparer.ImageBuilder, error) {
	rt, err := f.runtime(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create image builder: %w", err)
	}
	auth := runtime.RegistryAuth{
		Username: f.cfg.Docker.RegistryUser,
		Password: f.cfg.Docker.RegistryPassword,
	}
	return builder.NewDockerImageBuilder(rt, auth, f.logger), nil
}

// LazyImageBuilder returns a builder that connects to the local Docker
// daemon on its first build, so runs that reuse a prepared image never need
// one.
func (f *BackendFactory) LazyImageBuilder() preparer.ImageBuilder {
	return &lazyImageBuilder{open: f.ImageBuilder}
}

type lazyImageBuilder struct {
	open    func(ctx context.Context) (preparer.ImageBuilder, error)
	builder preparer.ImageBuilder
}

func (l *lazyImageBuilder) BuildAndPush(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error) {
	if l.builder == nil {
		b, err := l.open(ctx)
		if err != nil {
			return "", err
		}
		l.builder = b
	}
	return l.builder.BuildAndPush(ctx, d, s)
}

// Close releases every Docker client opened by the factory.
func (f *BackendFactory) Close() error {
	var errs []error
	for _, rt := range f.runtimes {
		errs = append(errs, rt.Close())
	}
	f.runtimes = nil
	return errors.Join(errs...)
}

func (f *BackendFactory) runtime(ctx context.Context, host string) (*runtime.DockerRuntime, error) {
	rt, err := f.newRuntime(ctx, host)
	if err != nil {
		return nil, err
	}
	f.runtimes = append(f.runtimes, rt)
	return rt, nil
}
