// Package provider defines the contract that every remote compute backend
// (GCP, AWS, Azure, a remote Docker host, a CI runner fleet, ...) implements
// so the supervisor can launch and observe a pipeline instance without
// knowing which cloud it runs on.
package provider

import (
	"context"
	"iter"
	"time"
)

// OptionName is the launch option carrying the run name, which backends may
// use to label the instance.
const OptionName = "name"

// LaunchRequest defines the parameters for launching an instance.
type LaunchRequest struct {
	// Image is the content-addressed container image reference to run.
	Image string
	// Command is the fixed entrypoint command, passed through unmodified.
	Command []string
	// Arguments are the per-step arguments, passed through unmodified.
	Arguments []string
	// Options carries provider-specific launch hints such as resources or
	// environment. Backends ignore keys they do not understand.
	Options map[string]string
}

// Observer is the read side of a backend. Embed Base to get the documented
// defaults for all three methods.
type Observer interface {
	// Instance returns the latest view of the most recently launched
	// instance. It returns an error wrapping ErrNotFound when nothing has
	// been launched or the provider has reaped the instance.
	Instance(ctx context.Context) (InstanceView, error)

	// LogsURL returns a link to a live log viewer. It never fails; the
	// boolean is false when the provider has no viewer or nothing is
	// launched yet.
	LogsURL(ctx context.Context) (string, bool)

	// StreamLogs yields the log lines emitted during the half-open window
	// [now-window, now). Each call is independent and the sequence is
	// finite. Backends must not yield a line twice across calls for the
	// same instance, so an overlapping window only picks up new lines.
	StreamLogs(ctx context.Context, window time.Duration) iter.Seq2[string, error]
}

// Backend launches and observes remote instances for one provider.
// Implementations may hold provider clients across runs and must be safe
// for sequential reuse; they need not be safe for concurrent runs.
type Backend interface {
	Observer

	// Name identifies the provider, e.g. "docker" or "gitlab".
	Name() string

	// Launch starts a new instance and returns as soon as the provider has
	// accepted the request, not when the instance is running. A rejected
	// request is reported as *LaunchError.
	Launch(ctx context.Context, req LaunchRequest) (InstanceView, error)
}

// Base supplies the no-op Observer defaults: Instance reports ErrNotFound,
// LogsURL reports no viewer, and StreamLogs yields nothing. A backend that
// embeds Base only has to implement Name and Launch to satisfy Backend.
type Base struct{}

// Instance reports ErrNotFound.
func (Base) Instance(context.Context) (InstanceView, error) {
	return InstanceView{}, ErrNotFound
}

// LogsURL reports that no log viewer is available.
func (Base) LogsURL(context.Context) (string, bool) {
	return "", false
}

// StreamLogs yields an empty sequence.
func (Base) StreamLogs(context.Context, time.Duration) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

var _ Observer = Base{}
