package preparer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vmorch/internal/logging"
	"vmorch/pkg/deployment"
	"vmorch/pkg/stack"
)

type MockImageBuilder struct {
	mock.Mock
}

func (m *MockImageBuilder) BuildAndPush(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error) {
	args := m.Called(ctx, d, s)
	return args.String(0), args.Error(1)
}

func newDeployment() *deployment.Deployment {
	return &deployment.Deployment{
		Metadata: deployment.Metadata{Name: "digits"},
		Spec:     deployment.Spec{Steps: []deployment.Step{{Name: "importer"}}},
	}
}

func TestPrepare_BuildsOnce(t *testing.T) {
	builder := new(MockImageBuilder)
	d := newDeployment()
	s := &stack.Stack{Name: "prod"}
	builder.On("BuildAndPush", mock.Anything, d, s).Return("reg/img@sha256:1", nil).Once()

	p := New(builder, logging.Discard())

	ref, err := p.Prepare(context.Background(), d, s)
	require.NoError(t, err)
	assert.Equal(t, "reg/img@sha256:1", ref)

	recorded, ok := d.Annotation(deployment.ImageAnnotation)
	assert.True(t, ok)
	assert.Equal(t, ref, recorded)

	again, err := p.Prepare(context.Background(), d, s)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	builder.AssertNumberOfCalls(t, "BuildAndPush", 1)
}

func TestPrepare_ExistingAnnotation(t *testing.T) {
	builder := new(MockImageBuilder)
	d := newDeployment()
	d.Annotate(deployment.ImageAnnotation, "reg/prebuilt:1")

	ref, err := New(builder, logging.Discard()).Prepare(context.Background(), d, &stack.Stack{})
	require.NoError(t, err)
	assert.Equal(t, "reg/prebuilt:1", ref)
	builder.AssertNotCalled(t, "BuildAndPush", mock.Anything, mock.Anything, mock.Anything)
}

func TestPrepare_BuilderErrors(t *testing.T) {
	t.Run("propagates failure", func(t *testing.T) {
		builder := new(MockImageBuilder)
		builder.On("BuildAndPush", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("registry unreachable"))
		d := newDeployment()

		_, err := New(builder, logging.Discard()).Prepare(context.Background(), d, &stack.Stack{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry unreachable")
		_, ok := d.Annotation(deployment.ImageAnnotation)
		assert.False(t, ok, "failed builds must not record an image")
	})

	t.Run("rejects empty reference", func(t *testing.T) {
		builder := new(MockImageBuilder)
		builder.On("BuildAndPush", mock.Anything, mock.Anything, mock.Anything).Return("", nil)

		_, err := New(builder, logging.Discard()).Prepare(context.Background(), newDeployment(), &stack.Stack{})
		assert.ErrorContains(t, err, "empty reference")
	})
}
