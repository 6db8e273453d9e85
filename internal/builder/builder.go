// Package builder produces the orchestrator image for a deployment: it builds
// the deployment's context with Docker, pushes it to the stack's registry and
// returns a digest-pinned reference.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"vmorch/internal/runtime"
	"vmorch/internal/scm"
	"vmorch/pkg/deployment"
	"vmorch/pkg/stack"
)

// Image labels applied to every built image.
const (
	LabelPipeline     = "vmorch.dev/pipeline"
	LabelDeploymentID = "vmorch.dev/deployment-id"
	LabelSourceCommit = "vmorch.dev/source-commit"
)

// ImageEngine is the subset of the Docker runtime the builder drives.
type ImageEngine interface {
	BuildImage(ctx context.Context, opts runtime.BuildOptions, onOutput runtime.OutputCallback) error
	PushImage(ctx context.Context, ref string, auth runtime.RegistryAuth, onOutput runtime.OutputCallback) (string, error)
}

// DockerImageBuilder builds and pushes orchestrator images.
type DockerImageBuilder struct {
	engine   ImageEngine
	auth     runtime.RegistryAuth
	logger   *slog.Logger
	describe func(dir string) (scm.Source, error)
}

// NewDockerImageBuilder creates a builder pushing with the given credentials.
func NewDockerImageBuilder(engine ImageEngine, auth runtime.RegistryAuth, logger *slog.Logger) *DockerImageBuilder {
	return &DockerImageBuilder{
		engine:   engine,
		auth:     auth,
		logger:   logger,
		describe: scm.Describe,
	}
}

// BuildAndPush builds the deployment image, pushes it to the stack registry
// and returns the pushed reference, pinned by digest when the registry
// reports one.
func (b *DockerImageBuilder) BuildAndPush(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error) {
	if s == nil || s.ContainerRegistry == nil {
		return "", errors.New("stack has no container registry to push to")
	}

	contextDir := d.Spec.Build.Context
	if contextDir == "" {
		contextDir = "."
	}

	repo := Repository(s.ContainerRegistry.URI, d.Metadata.Name)
	tag := d.ID()
	labels := map[string]string{
		LabelPipeline:     d.Metadata.Name,
		LabelDeploymentID: d.ID(),
	}

	src, err := b.describe(contextDir)
	switch {
	case err == nil:
		tag = src.Tag()
		labels[LabelSourceCommit] = src.Commit
		d.Annotate(deployment.SourceCommitAnnotation, src.Commit)
		if src.Dirty {
			b.logger.Warn("Build context has uncommitted changes", "context", contextDir, "commit", src.ShortCommit())
		}
	case errors.Is(err, scm.ErrNotRepository):
		b.logger.Debug("Build context is not a git repository, tagging by deployment ID", "context", contextDir)
	default:
		return "", fmt.Errorf("failed to resolve build context revision: %w", err)
	}

	ref := repo + ":" + tag
	b.logger.Info("Building orchestrator image", "image", ref, "context", contextDir)

	progress := func(line string) { b.logger.Debug(line, "image", ref) }
	if err := b.engine.BuildImage(ctx, runtime.BuildOptions{
		ContextDir: contextDir,
		Dockerfile: dockerfile(contextDir, d.Spec.Build.Dockerfile),
		Tags:       []string{ref},
		BuildArgs:  d.Spec.Build.BuildArgs,
		Labels:     labels,
	}, progress); err != nil {
		return "", fmt.Errorf("failed to build image %s: %w", ref, err)
	}

	b.logger.Info("Pushing orchestrator image", "image", ref, "registry", s.ContainerRegistry.Name)
	digest, err := b.engine.PushImage(ctx, ref, b.auth, progress)
	if err != nil {
		return "", fmt.Errorf("failed to push image %s: %w", ref, err)
	}
	if digest == "" {
		b.logger.Warn("Registry reported no digest, using tag reference", "image", ref)
		return ref, nil
	}
	return repo + "@" + digest, nil
}

var invalidRepoChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Repository returns the image repository for a pipeline under a registry URI.
func Repository(registryURI, pipeline string) string {
	name := invalidRepoChars.ReplaceAllString(strings.ToLower(pipeline), "-")
	name = strings.Trim(name, "-._")
	if name == "" {
		name = "pipeline"
	}
	registryURI = strings.TrimPrefix(strings.TrimPrefix(registryURI, "https://"), "http://")
	return strings.TrimSuffix(registryURI, "/") + "/" + name
}

// dockerfile returns the Dockerfile path relative to the context, as the
// daemon expects it inside the build archive.
func dockerfile(contextDir, path string) string {
	if path == "" {
		return "Dockerfile"
	}
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(contextDir, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}
