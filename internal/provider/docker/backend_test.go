package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vmorch/internal/logging"
	"vmorch/internal/runtime"
	"vmorch/pkg/provider"
)

// MockEngine is a mock implementation of Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) PullImage(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockEngine) RunContainer(ctx context.Context, opts runtime.RunOptions) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) InspectContainer(ctx context.Context, id string) (runtime.ContainerState, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(runtime.ContainerState), args.Error(1)
}

func (m *MockEngine) ContainerLogs(ctx context.Context, id string, since, until time.Time) ([]runtime.LogLine, error) {
	args := m.Called(ctx, id, since, until)
	lines, _ := args.Get(0).([]runtime.LogLine)
	return lines, args.Error(1)
}

const containerID = "0123456789abcdef0123456789abcdef"

func launch(t *testing.T, engine *MockEngine, opts ...Option) *Backend {
	t.Helper()
	engine.On("PullImage", mock.Anything, "reg/img@sha256:1").Return(nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return(containerID, nil)

	b := New(engine, logging.Discard(), opts...)
	view, err := b.Launch(context.Background(), provider.LaunchRequest{
		Image:     "reg/img@sha256:1",
		Command:   []string{"pipeline-entrypoint"},
		Arguments: []string{"--step", "importer"},
		Options:   map[string]string{OptionName: "digits run", OptionCPU: "2", "label.team": "ml", "env.MODE": "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPending, view.Status)
	return b
}

func TestLaunch(t *testing.T) {
	engine := new(MockEngine)
	launch(t, engine)

	engine.AssertCalled(t, "RunContainer", mock.Anything, mock.MatchedBy(func(o runtime.RunOptions) bool {
		return o.Name == "vmorch-digits-run" &&
			o.Image == "reg/img@sha256:1" &&
			assert.ObjectsAreEqual([]string{"pipeline-entrypoint", "--step", "importer"}, o.Command) &&
			o.Labels["team"] == "ml" &&
			o.Env["MODE"] == "prod" &&
			o.CPUs == "2"
	}))
}

func TestLaunch_Failures(t *testing.T) {
	t.Run("pull rejected", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("PullImage", mock.Anything, mock.Anything).Return(errors.New("manifest unknown"))

		b := New(engine, logging.Discard())
		_, err := b.Launch(context.Background(), provider.LaunchRequest{Image: "reg/missing:1"})

		var le *provider.LaunchError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, Name, le.Provider)
		assert.Contains(t, err.Error(), "manifest unknown")

		_, err = b.Instance(context.Background())
		assert.ErrorIs(t, err, provider.ErrNotFound)
	})

	t.Run("empty image", func(t *testing.T) {
		_, err := New(new(MockEngine), logging.Discard()).Launch(context.Background(), provider.LaunchRequest{})
		var le *provider.LaunchError
		assert.ErrorAs(t, err, &le)
	})
}

func TestInstance(t *testing.T) {
	engine := new(MockEngine)
	b := launch(t, engine)

	engine.On("InspectContainer", mock.Anything, containerID).
		Return(runtime.ContainerState{ID: containerID, Status: "exited", ExitCode: 0}, nil).Once()
	view, err := b.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, provider.StatusSucceeded, view.Status)
	assert.Equal(t, "vmorch-digits-run", view.Name)

	engine.On("InspectContainer", mock.Anything, containerID).
		Return(runtime.ContainerState{}, errors.New("ssh: connection reset")).Once()
	_, err = b.Instance(context.Background())
	assert.ErrorIs(t, err, provider.ErrTransient)

	engine.On("InspectContainer", mock.Anything, containerID).
		Return(runtime.ContainerState{}, runtime.ErrContainerNotFound).Once()
	_, err = b.Instance(context.Background())
	assert.ErrorIs(t, err, provider.ErrNotFound)
	assert.NotErrorIs(t, err, provider.ErrTransient)
}

func TestLogsURL(t *testing.T) {
	engine := new(MockEngine)
	b := New(engine, logging.Discard(), WithLogsURLTemplate("https://ops.example/containers/{id}/logs?n={name}"))

	for i := 0; i < 2; i++ {
		url, ok := b.LogsURL(context.Background())
		assert.False(t, ok, "no URL before launch")
		assert.Empty(t, url)
	}

	engine.On("PullImage", mock.Anything, mock.Anything).Return(nil)
	engine.On("RunContainer", mock.Anything, mock.Anything).Return(containerID, nil)
	_, err := b.Launch(context.Background(), provider.LaunchRequest{Image: "img"})
	require.NoError(t, err)

	url, ok := b.LogsURL(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "https://ops.example/containers/"+containerID+"/logs?n=0123456789ab", url)

	url, ok = New(engine, logging.Discard()).LogsURL(context.Background())
	assert.False(t, ok, "no template means no viewer")
	assert.Empty(t, url)
}

func collect(t *testing.T, seq func(func(string, error) bool)) []string {
	t.Helper()
	var out []string
	for line, err := range seq {
		require.NoError(t, err)
		out = append(out, line)
	}
	return out
}

func TestStreamLogs_WindowAndCursor(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base.Add(20 * time.Second)
	engine := new(MockEngine)
	b := launch(t, engine, WithClock(func() time.Time { return now }))

	first := []runtime.LogLine{
		{Time: base.Add(11 * time.Second), Text: "a"},
		{Time: base.Add(15 * time.Second), Text: "b"},
		{Time: now, Text: "at-now"},
	}
	engine.On("ContainerLogs", mock.Anything, containerID, base.Add(10*time.Second), now).Return(first, nil).Once()
	assert.Equal(t, []string{"a", "b"}, collect(t, b.StreamLogs(context.Background(), 10*time.Second)),
		"the window is half-open")

	// A drain window overlapping the previous one yields only new lines.
	now = base.Add(30 * time.Second)
	second := []runtime.LogLine{
		{Time: base.Add(15 * time.Second), Text: "b"},
		{Time: base.Add(20 * time.Second), Text: "at-now"},
		{Time: base.Add(25 * time.Second), Text: "c"},
		{Text: "untimed"},
	}
	engine.On("ContainerLogs", mock.Anything, containerID, base.Add(10*time.Second), now).Return(second, nil).Once()
	assert.Equal(t, []string{"at-now", "c", "untimed"}, collect(t, b.StreamLogs(context.Background(), 20*time.Second)))
}

func TestStreamLogs_LateCallCoversGap(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base.Add(10 * time.Second)
	engine := new(MockEngine)
	b := launch(t, engine, WithClock(func() time.Time { return now }))

	engine.On("ContainerLogs", mock.Anything, containerID, base, now).
		Return([]runtime.LogLine{{Time: base.Add(5 * time.Second), Text: "first"}}, nil).Once()
	assert.Equal(t, []string{"first"}, collect(t, b.StreamLogs(context.Background(), 10*time.Second)))

	// The next call arrives 2s late; the read starts where the last one ended.
	previous := now
	now = base.Add(22 * time.Second)
	engine.On("ContainerLogs", mock.Anything, containerID, previous, now).
		Return([]runtime.LogLine{
			{Time: base.Add(11 * time.Second), Text: "in-gap"},
			{Time: base.Add(15 * time.Second), Text: "in-window"},
		}, nil).Once()
	assert.Equal(t, []string{"in-gap", "in-window"}, collect(t, b.StreamLogs(context.Background(), 10*time.Second)))
	engine.AssertExpectations(t)
}

func TestStreamLogs_BeforeLaunchAndErrors(t *testing.T) {
	engine := new(MockEngine)
	b := New(engine, logging.Discard())
	assert.Empty(t, collect(t, b.StreamLogs(context.Background(), time.Second)))

	b = launch(t, engine)
	engine.On("ContainerLogs", mock.Anything, containerID, mock.Anything, mock.Anything).
		Return(nil, errors.New("EOF")).Once()

	var errs []error
	for _, err := range b.StreamLogs(context.Background(), time.Second) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], provider.ErrTransient)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		state string
		code  int
		want  provider.Status
	}{
		{"created", 0, provider.StatusPending},
		{"running", 0, provider.StatusRunning},
		{"restarting", 0, provider.StatusRunning},
		{"paused", 0, provider.StatusRunning},
		{"exited", 0, provider.StatusSucceeded},
		{"exited", 137, provider.StatusFailed},
		{"dead", 0, provider.StatusFailed},
		{"removing", 0, provider.StatusStopped},
		{"weird", 0, provider.StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStatus(tt.state, tt.code), "%s/%d", tt.state, tt.code)
	}
}
