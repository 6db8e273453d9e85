// Package fake provides a scripted in-memory backend for exercising the
// supervisor without a real provider.
package fake

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"vmorch/pkg/provider"
)

// Name is the provider name reported by the fake backend.
const Name = "fake"

// Step scripts the outcome of one Instance call.
type Step struct {
	Status provider.Status
	// Err is returned instead of a view when set.
	Err error
	// Logs are queued and yielded by the next StreamLogs call.
	Logs []string
	// StreamErr is yielded by the next StreamLogs call.
	StreamErr error
}

// Backend replays a script of poll outcomes. The last step repeats once
// the script is exhausted.
type Backend struct {
	mu        sync.Mutex
	script    []Step
	next      int
	launchErr error
	logsURL   string
	onPoll    func(n int)

	launched  bool
	pending   []string
	streamErr error

	launches []provider.LaunchRequest
	windows  []time.Duration
	polls    int
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogsURL makes LogsURL report url after launch.
func WithLogsURL(url string) Option {
	return func(b *Backend) { b.logsURL = url }
}

// WithLaunchError makes Launch fail with err.
func WithLaunchError(err error) Option {
	return func(b *Backend) { b.launchErr = err }
}

// OnPoll registers a hook invoked with the 1-based poll count before each
// Instance call returns.
func OnPoll(fn func(n int)) Option {
	return func(b *Backend) { b.onPoll = fn }
}

// New creates a fake backend replaying script.
func New(script []Step, opts ...Option) *Backend {
	b := &Backend{script: script}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Launch(_ context.Context, req provider.LaunchRequest) (provider.InstanceView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.launches = append(b.launches, req)
	if b.launchErr != nil {
		return provider.InstanceView{}, b.launchErr
	}
	b.launched = true
	return b.view(provider.StatusPending), nil
}

func (b *Backend) Instance(context.Context) (provider.InstanceView, error) {
	b.mu.Lock()
	if !b.launched {
		b.mu.Unlock()
		return provider.InstanceView{}, provider.ErrNotFound
	}
	b.polls++
	n := b.polls

	step := Step{Status: provider.StatusRunning}
	if len(b.script) > 0 {
		step = b.script[min(b.next, len(b.script)-1)]
		b.next++
	}
	b.pending = append(b.pending, step.Logs...)
	if step.StreamErr != nil {
		b.streamErr = step.StreamErr
	}
	hook := b.onPoll
	b.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if step.Err != nil {
		return provider.InstanceView{}, step.Err
	}
	return b.view(step.Status), nil
}

func (b *Backend) LogsURL(context.Context) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.launched || b.logsURL == "" {
		return "", false
	}
	return b.logsURL, true
}

func (b *Backend) StreamLogs(_ context.Context, window time.Duration) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.mu.Lock()
		b.windows = append(b.windows, window)
		lines := b.pending
		b.pending = nil
		streamErr := b.streamErr
		b.streamErr = nil
		b.mu.Unlock()

		if streamErr != nil {
			yield("", streamErr)
			return
		}
		for _, l := range lines {
			if !yield(l, nil) {
				return
			}
		}
	}
}

// Launches returns every launch request received.
func (b *Backend) Launches() []provider.LaunchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]provider.LaunchRequest(nil), b.launches...)
}

// Windows returns the window of every StreamLogs call, in order.
func (b *Backend) Windows() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.windows...)
}

// Polls returns the number of Instance calls made after launch.
func (b *Backend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func (b *Backend) view(status provider.Status) provider.InstanceView {
	id := fmt.Sprintf("fake-%d", len(b.launches))
	return provider.InstanceView{ID: id, Name: id, Status: status}
}

var _ provider.Backend = (*Backend)(nil)
