package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vmorch/internal/config"
	"vmorch/internal/entrypoint"
	orcherrors "vmorch/internal/errors"
	"vmorch/internal/metrics"
	"vmorch/internal/parser"
	"vmorch/internal/preparer"
	"vmorch/internal/ui"
	"vmorch/internal/validator"
	"vmorch/pkg/deployment"
	"vmorch/pkg/provider"
	"vmorch/pkg/stack"
)

// App is the facade the CLI drives. It wires configuration, descriptors,
// backends and the supervisor together.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	console *ui.Console
	metrics *metrics.Recorder
	factory *BackendFactory
}

// NewApp creates an App.
func NewApp(cfg *config.Config, logger *slog.Logger, console *ui.Console) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		console: console,
		metrics: metrics.NewRecorder(),
		factory: NewBackendFactory(cfg, logger),
	}
}

// Metrics returns the recorder used by supervised runs.
func (a *App) Metrics() *metrics.Recorder {
	return a.metrics
}

// Close releases provider clients.
func (a *App) Close() error {
	return a.factory.Close()
}

// RunOptions selects the descriptors of a run.
type RunOptions struct {
	DeploymentPath string
	StackPath      string
	DryRun         bool
}

// Run validates, prepares, launches and supervises a deployment.
func (a *App) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	d, st, err := a.load(opts.DeploymentPath, opts.StackPath)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return nil, a.dryRun(d, st)
	}
	if ok, reason := validator.Validate(st); !ok {
		return nil, invalidStackError(st, reason)
	}

	backend, err := a.factory.Backend(ctx)
	if err != nil {
		return nil, orcherrors.NewRuntimeError(
			fmt.Sprintf("Failed to initialize the %s provider", a.cfg.Provider),
			"the provider client could not be created",
			"Check the provider section of the configuration",
			err)
	}

	sup := a.supervisor(backend, a.factory.LazyImageBuilder())
	sup.Attach(st)

	report, err := sup.Run(ctx, d)
	if err != nil {
		return report, err
	}
	a.printReport(report)
	return report, nil
}

// Validate reports whether the stack at stackPath is remote-compatible.
func (a *App) Validate(stackPath string) (bool, string, error) {
	st, err := parser.ParseStack(stackPath)
	if err != nil {
		return false, "", descriptorError("stack", stackPath, err)
	}
	ok, reason := validator.Validate(st)
	return ok, reason, nil
}

// Prepare builds and pushes the image of a deployment and returns its
// reference, without launching anything.
func (a *App) Prepare(ctx context.Context, deploymentPath, stackPath string) (string, error) {
	d, st, err := a.load(deploymentPath, stackPath)
	if err != nil {
		return "", err
	}
	if ok, reason := validator.Validate(st); !ok {
		return "", invalidStackError(st, reason)
	}

	imageBuilder, err := a.factory.ImageBuilder(ctx)
	if err != nil {
		return "", orcherrors.NewRuntimeError(
			"Failed to initialize the image builder",
			"the local Docker daemon is not reachable",
			"Start Docker or set DOCKER_HOST",
			err)
	}
	ref, err := preparer.New(imageBuilder, a.logger).Prepare(ctx, d, st)
	if err != nil {
		return "", orcherrors.NewPrepareError(
			fmt.Sprintf("Failed to prepare the image for pipeline '%s'", d.Metadata.Name),
			"the image could not be built or pushed",
			"Check the build context and the registry credentials",
			err)
	}
	return ref, nil
}

func (a *App) supervisor(backend provider.Backend, imageBuilder preparer.ImageBuilder) *Supervisor {
	return New(backend, Options{
		Preparer:     preparer.New(imageBuilder, a.logger),
		Entrypoint:   entrypoint.New(a.cfg.Entrypoint.Command),
		PollInterval: a.cfg.PollInterval,
		Retry: RetryPolicy{
			MaxRetries:      a.cfg.Retry.MaxRetries,
			InitialInterval: a.cfg.Retry.InitialInterval,
		},
		Logger:      a.logger,
		Metrics:     a.metrics,
		State:       NewStateStore(a.cfg.StateFile),
		RetainState: a.cfg.RetainState,
		OnPhase: func(index, total int, phase Phase) {
			a.console.PrintPhase(index, total, phaseTitles[phase])
		},
	})
}

func (a *App) dryRun(d *deployment.Deployment, st *stack.Stack) error {
	a.console.PrintWarning("DRY RUN - no image is built and no instance is launched")

	sup := New(nil, Options{
		Entrypoint:   entrypoint.New(a.cfg.Entrypoint.Command),
		PollInterval: a.cfg.PollInterval,
		Logger:       a.logger,
	})
	sup.Attach(st)
	req, err := sup.Plan(d)
	if err != nil {
		return err
	}

	a.console.PrintSuccess(fmt.Sprintf("Stack '%s' is remote-compatible", st.Name))
	if d.Spec.Schedule != "" {
		a.console.PrintWarning(fmt.Sprintf("Schedule %q would be ignored", d.Spec.Schedule))
	}
	a.console.PrintFields(
		"provider", a.cfg.Provider,
		"image", req.Image,
		"command", strings.Join(req.Command, " "),
		"arguments", strings.Join(req.Arguments, " "),
		"poll interval", a.cfg.PollInterval.String(),
	)
	return nil
}

func (a *App) load(deploymentPath, stackPath string) (*deployment.Deployment, *stack.Stack, error) {
	d, err := parser.ParseDeployment(deploymentPath)
	if err != nil {
		return nil, nil, descriptorError("deployment", deploymentPath, err)
	}
	st, err := parser.ParseStack(stackPath)
	if err != nil {
		return nil, nil, descriptorError("stack", stackPath, err)
	}
	a.logger.Debug("Descriptors parsed", "pipeline", d.Metadata.Name, "stack", st.Name)
	return d, st, nil
}

func (a *App) printReport(r *RunReport) {
	pairs := []string{
		"run", r.RunName,
		"instance", r.Instance.ID,
		"status", string(r.Instance.Status),
		"image", r.ImageRef,
	}
	if r.LogsURL != "" {
		pairs = append(pairs, "logs", r.LogsURL)
	}

	switch {
	case r.Interrupted:
		a.console.PrintWarning("Supervision interrupted; the instance keeps running remotely")
	case r.Instance.Status == provider.StatusSucceeded:
		a.console.PrintSuccess("Pipeline run succeeded")
	default:
		a.console.PrintError(fmt.Sprintf("Pipeline run finished with status %s", r.Instance.Status))
	}
	a.console.PrintFields(pairs...)
}

var phaseTitles = map[Phase]string{
	PhaseValidating: "Validating stack",
	PhasePreparing:  "Preparing image",
	PhaseLaunching:  "Launching instance",
	PhasePolling:    "Supervising instance",
}

func descriptorError(kind, path string, err error) error {
	return orcherrors.NewDescriptorError(
		fmt.Sprintf("Failed to load %s descriptor %s", kind, path),
		"the file is missing or does not match the schema",
		fmt.Sprintf("Check the %s YAML against the documented fields", kind),
		err)
}
