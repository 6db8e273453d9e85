package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmorch/pkg/provider"
)

func drain(b *Backend, window time.Duration) ([]string, error) {
	var out []string
	for line, err := range b.StreamLogs(context.Background(), window) {
		if err != nil {
			return out, err
		}
		out = append(out, line)
	}
	return out, nil
}

func TestBackend_Script(t *testing.T) {
	ctx := context.Background()
	b := New([]Step{
		{Status: provider.StatusRunning, Logs: []string{"a"}},
		{Status: provider.StatusSucceeded, Logs: []string{"b"}},
	}, WithLogsURL("https://logs.example/1"))

	_, err := b.Instance(ctx)
	assert.ErrorIs(t, err, provider.ErrNotFound)
	_, ok := b.LogsURL(ctx)
	assert.False(t, ok)

	view, err := b.Launch(ctx, provider.LaunchRequest{Image: "img"})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPending, view.Status)

	url, ok := b.LogsURL(ctx)
	assert.True(t, ok)
	assert.Equal(t, "https://logs.example/1", url)

	view, err = b.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusRunning, view.Status)
	lines, err := drain(b, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lines)

	for i := 0; i < 2; i++ {
		view, err = b.Instance(ctx)
		require.NoError(t, err)
		assert.Equal(t, provider.StatusSucceeded, view.Status, "the last step repeats")
	}
	lines, err = drain(b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b"}, lines)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, b.Windows())
	assert.Equal(t, 3, b.Polls())
	assert.Len(t, b.Launches(), 1)
}

func TestBackend_Errors(t *testing.T) {
	ctx := context.Background()
	launchErr := provider.NewLaunchError(Name, "quota exceeded", nil)
	_, err := New(nil, WithLaunchError(launchErr)).Launch(ctx, provider.LaunchRequest{})
	assert.ErrorIs(t, err, launchErr)

	streamErr := errors.New("stream broke")
	b := New([]Step{{Status: provider.StatusRunning, StreamErr: streamErr}, {Err: provider.ErrNotFound}})
	_, err = b.Launch(ctx, provider.LaunchRequest{})
	require.NoError(t, err)

	_, err = b.Instance(ctx)
	require.NoError(t, err)
	_, err = drain(b, time.Second)
	assert.ErrorIs(t, err, streamErr)

	_, err = b.Instance(ctx)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestBackend_OnPoll(t *testing.T) {
	var seen []int
	b := New(nil, OnPoll(func(n int) { seen = append(seen, n) }))
	_, _ = b.Launch(context.Background(), provider.LaunchRequest{})
	for i := 0; i < 3; i++ {
		view, err := b.Instance(context.Background())
		require.NoError(t, err)
		assert.Equal(t, provider.StatusRunning, view.Status)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}
