package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"vmorch/internal/entrypoint"
	orcherrors "vmorch/internal/errors"
	"vmorch/internal/metrics"
	"vmorch/internal/validator"
	"vmorch/pkg/deployment"
	"vmorch/pkg/provider"
	"vmorch/pkg/stack"
)

const (
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxUnknownPolls is how many consecutive unknown statuses end
	// supervision, five minutes at the default interval.
	DefaultMaxUnknownPolls = 30
	// drainTimeout bounds the final log flush after an interrupt, when the
	// run context is already cancelled.
	drainTimeout = 30 * time.Second
)

// ImagePreparer resolves the image reference a deployment runs.
type ImagePreparer interface {
	Prepare(ctx context.Context, d *deployment.Deployment, s *stack.Stack) (string, error)
}

// RetryPolicy bounds retries of transient polling errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() then.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Supervisor. Zero values select defaults.
type Options struct {
	Preparer     ImagePreparer
	Entrypoint   *entrypoint.Resolver
	PollInterval time.Duration
	Retry        RetryPolicy
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	// State enables the resume file; nil disables persistence.
	State       *StateStore
	RetainState bool
	Sleep       SleepFunc
	// MaxUnknownPolls bounds consecutive polls reporting StatusUnknown.
	MaxUnknownPolls int
	// OnPhase is called as each stage starts.
	OnPhase func(index, total int, phase Phase)
}

// Supervisor drives one deployment at a time through validation,
// preparation, launch, polling and the final log drain.
type Supervisor struct {
	backend provider.Backend
	opts    Options
	logger  *slog.Logger

	attached bool
	stack    *stack.Stack
	valid    bool
	reason   string
}

// New creates a Supervisor for backend.
func New(backend provider.Backend, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Entrypoint == nil {
		opts.Entrypoint = entrypoint.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.MaxUnknownPolls <= 0 {
		opts.MaxUnknownPolls = DefaultMaxUnknownPolls
	}
	return &Supervisor{backend: backend, opts: opts, logger: opts.Logger}
}

// Attach validates s once and caches the decision for every later Run.
func (s *Supervisor) Attach(st *stack.Stack) (bool, string) {
	s.attached = true
	s.stack = st
	s.valid, s.reason = validator.Validate(st)
	if !s.valid {
		s.logger.Warn("Stack is not usable with the VM orchestrator", "reason", s.reason)
	}
	return s.valid, s.reason
}

// Run supervises one run of d. The returned report is always non-nil; the
// error is non-nil when the run ended in PhaseFailed. An interrupt through
// ctx is not an error: the run drains and reports Interrupted.
func (s *Supervisor) Run(ctx context.Context, d *deployment.Deployment) (*RunReport, error) {
	ec := &ExecutionContext{
		RunID:      uuid.New().String(),
		Deployment: d,
		Stack:      s.stack,
		Phase:      PhaseNotStarted,
		StartedAt:  time.Now(),
	}
	ec.RunName = d.Spec.RunName
	if ec.RunName == "" {
		ec.RunName = fmt.Sprintf("%s-%s", d.Metadata.Name, ec.RunID)
	}
	s.logger.Info("Starting run", "run", ec.RunName, "deployment", d.ID(), "provider", s.backend.Name())

	s.resume(ec)

	stages := s.stages()
	for i, stage := range stages {
		ec.Phase = stage.Phase()
		if s.opts.OnPhase != nil {
			s.opts.OnPhase(i+1, len(stages), ec.Phase)
		}
		if err := stage.Execute(ctx, ec); err != nil {
			failedIn := ec.Phase
			ec.Phase = PhaseFailed
			s.logger.Error("Run failed", "phase", failedIn, "error", err)
			return s.finish(ec), err
		}
		s.checkpoint(ec, stage.Phase())
	}

	ec.Phase = PhaseDone
	report := s.finish(ec)
	if !ec.Interrupted {
		s.complete()
	}
	return report, nil
}

// Plan resolves the launch request Run would send for d without preparing
// an image or launching. Validation is reported as Run would.
func (s *Supervisor) Plan(d *deployment.Deployment) (provider.LaunchRequest, error) {
	if err := s.validationError(); err != nil {
		return provider.LaunchRequest{}, err
	}
	image, ok := d.Annotation(deployment.ImageAnnotation)
	if !ok {
		image = "<built during preparation>"
	}
	runName := d.Spec.RunName
	if runName == "" {
		runName = d.Metadata.Name + "-<run-id>"
	}
	return s.launchRequest(d, image, runName), nil
}

func (s *Supervisor) stages() []Stage {
	return []Stage{
		&validateStage{s: s},
		&prepareStage{s: s},
		&launchStage{s: s},
		&superviseStage{s: s},
	}
}

func (s *Supervisor) validationError() error {
	if !s.attached {
		return orcherrors.NewValidationError(
			"No stack is attached to the supervisor",
			"validation runs when a stack is attached",
			"Attach a stack before running a deployment",
			nil)
	}
	if !s.valid {
		return invalidStackError(s.stack, s.reason)
	}
	return nil
}

func invalidStackError(st *stack.Stack, reason string) error {
	return orcherrors.NewValidationError(
		fmt.Sprintf("Stack '%s' cannot be used with a remote instance", stackName(st)),
		reason,
		"Replace local components and registries with remote flavors",
		errors.New(reason))
}

func (s *Supervisor) launchRequest(d *deployment.Deployment, image, runName string) provider.LaunchRequest {
	opts := d.LaunchOptions()
	opts[provider.OptionName] = runName
	return provider.LaunchRequest{
		Image:     image,
		Command:   s.opts.Entrypoint.Command(),
		Arguments: s.opts.Entrypoint.Arguments(d, runName),
		Options:   opts,
	}
}

// resume restores the image reference of a previous run of identical
// deployment content so preparation is not repeated.
func (s *Supervisor) resume(ec *ExecutionContext) {
	if s.opts.State == nil {
		return
	}
	state, err := s.opts.State.Load(ec.Deployment.ID())
	if err != nil {
		s.logger.Warn("Ignoring unreadable state file", "file", s.opts.State.Path(), "error", err)
	}
	if state == nil {
		ec.state = newState(ec.Deployment.ID(), ec.RunID)
		return
	}

	s.logger.Info("State file found, resuming", "previousRun", state.RunID, "lastStage", state.LastSuccessfulStage)
	if _, ok := ec.Deployment.Annotation(deployment.ImageAnnotation); !ok && state.ImageRef != "" {
		ec.Deployment.Annotate(deployment.ImageAnnotation, state.ImageRef)
	}
	state.RunID = ec.RunID
	state.InstanceID = ""
	ec.state = state
}

func (s *Supervisor) checkpoint(ec *ExecutionContext, phase Phase) {
	if s.opts.State == nil || ec.state == nil {
		return
	}
	ec.state.LastSuccessfulStage = phase
	ec.state.ImageRef = ec.ImageRef
	ec.state.InstanceID = ec.Instance.ID
	if err := s.opts.State.Save(ec.state); err != nil {
		s.logger.Warn("Failed to save state", "stage", phase, "error", err)
	}
}

func (s *Supervisor) complete() {
	if s.opts.State == nil {
		return
	}
	if s.opts.RetainState {
		s.logger.Info("State file retained for auditing", "file", s.opts.State.Path())
		return
	}
	if err := s.opts.State.Remove(); err != nil {
		s.logger.Warn("Failed to remove state file", "error", err)
	}
}

func (s *Supervisor) finish(ec *ExecutionContext) *RunReport {
	report := ec.report(time.Now())
	duration := report.FinishedAt.Sub(report.StartedAt)
	if !ec.LaunchedAt.IsZero() {
		duration = report.FinishedAt.Sub(ec.LaunchedAt)
	}
	s.opts.Metrics.RecordRun(s.backend.Name(), report.Outcome(), duration)
	return report
}

// pollInstance fetches the instance view, retrying errors the backend marks
// as transient. Every other error is returned as is.
func (s *Supervisor) pollInstance(ctx context.Context) (provider.InstanceView, error) {
	op := func() (provider.InstanceView, error) {
		view, err := s.backend.Instance(ctx)
		if err != nil && !errors.Is(err, provider.ErrTransient) {
			return view, backoff.Permanent(err)
		}
		return view, err
	}
	notify := func(err error, next time.Duration) {
		s.opts.Metrics.RecordPollError(s.backend.Name(), err)
		s.logger.Warn("Transient error polling instance, retrying", "error", err, "retryIn", next)
	}
	return backoff.RetryNotifyWithData(op, s.retryBackOff(ctx), notify)
}

func (s *Supervisor) retryBackOff(ctx context.Context) backoff.BackOff {
	if s.opts.Retry.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	if s.opts.Retry.InitialInterval > 0 {
		exp.InitialInterval = s.opts.Retry.InitialInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, s.opts.Retry.MaxRetries), ctx)
}

// streamLogs forwards one window of remote log lines to the logger.
// Transient stream errors are reported and skipped; cancellation ends the
// window quietly.
func (s *Supervisor) streamLogs(ctx context.Context, ec *ExecutionContext, window time.Duration) error {
	lines := 0
	defer func() { s.opts.Metrics.RecordLogLines(lines) }()

	for line, err := range s.backend.StreamLogs(ctx, window) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, provider.ErrTransient) {
				s.opts.Metrics.RecordPollError(s.backend.Name(), err)
				s.logger.Warn("Transient error streaming logs, skipping window", "window", window, "error", err)
				return nil
			}
			return err
		}
		s.logger.Info(line, "instance", ec.Instance.ID)
		lines++
	}
	return nil
}

// logsURL returns the cached viewer link, asking the backend once more if
// none was known at launch.
func (s *Supervisor) logsURL(ctx context.Context, ec *ExecutionContext) string {
	if ec.LogsURL == "" {
		if url, ok := s.backend.LogsURL(context.WithoutCancel(ctx)); ok {
			ec.LogsURL = url
		}
	}
	return ec.LogsURL
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stackName(st *stack.Stack) string {
	if st == nil {
		return ""
	}
	return st.Name
}
