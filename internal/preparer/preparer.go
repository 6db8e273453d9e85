package preparer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vmorch/pkg/deployment"
	"vmorch/pkg/stack"
)

// ImageBuilder builds and pushes the image for a deployment.
type ImageBuilder interface {
	BuildAndPush(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error)
}

// Preparer ensures a deployment carries a pushed image reference.
type Preparer struct {
	builder ImageBuilder
	logger  *slog.Logger
}

// New creates a Preparer.
func New(builder ImageBuilder, logger *slog.Logger) *Preparer {
	return &Preparer{builder: builder, logger: logger}
}

// Prepare returns the image reference for d, building and pushing it only
// when d has no recorded reference yet. The reference is recorded on d under
// deployment.ImageAnnotation, so repeated calls never rebuild.
func (p *Preparer) Prepare(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error) {
	if ref, ok := d.Annotation(deployment.ImageAnnotation); ok {
		p.logger.Info("Reusing prepared image", "image", ref)
		return ref, nil
	}

	ref, err := p.builder.BuildAndPush(ctx, d, s)
	if err != nil {
		return "", fmt.Errorf("image build failed: %w", err)
	}
	if ref == "" {
		return "", errors.New("image builder returned an empty reference")
	}

	d.Annotate(deployment.ImageAnnotation, ref)
	p.logger.Info("Prepared orchestrator image", "image", ref)
	return ref, nil
}
