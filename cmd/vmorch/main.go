package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vmorch/internal/app"
	"vmorch/internal/config"
	orcherrors "vmorch/internal/errors"
	"vmorch/internal/logging"
	"vmorch/internal/ui"
	"vmorch/pkg/provider"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "vmorch",
	Short:   "vmorch - run containerized pipelines on remote instances",
	Version: version,
	Long: `vmorch builds a pipeline image, launches it on a remote compute instance
and supervises the run until it finishes, streaming the instance logs.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch and supervise a pipeline run",
	Long: `Run validates the stack, prepares the pipeline image, launches an instance
and polls it until the pipeline finishes. Interrupting the command stops
supervision only; the remote instance keeps running.`,
	Run: func(cmd *cobra.Command, args []string) {
		deploymentPath, _ := cmd.Flags().GetString("deployment")
		stackPath, _ := cmd.Flags().GetString("stack")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("retain-state") {
			cfg.RetainState, _ = cmd.Flags().GetBool("retain-state")
		}
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}

		ctx, stop := interruptContext(context.Background())
		defer stop()

		a, logger := newApp(cfg)
		defer closeApp(a, logger)

		if cfg.Metrics.Addr != "" && !dryRun {
			go func() {
				if err := a.Metrics().Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
					logger.Warn("Metrics endpoint stopped", "error", err)
				}
			}()
		}

		report, err := a.Run(ctx, app.RunOptions{
			DeploymentPath: deploymentPath,
			StackPath:      stackPath,
			DryRun:         dryRun,
		})
		if err != nil {
			exit(a, logger, err)
		}
		if report != nil && !report.Interrupted && report.Instance.Status != provider.StatusSucceeded {
			closeApp(a, logger)
			os.Exit(2)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a stack can be used with remote instances",
	Run: func(cmd *cobra.Command, args []string) {
		stackPath, _ := cmd.Flags().GetString("stack")

		a, logger := newApp(loadConfig(cmd))
		defer closeApp(a, logger)

		ok, reason, err := a.Validate(stackPath)
		if err != nil {
			exit(a, logger, err)
		}
		console := ui.NewConsole()
		if !ok {
			console.PrintError(reason)
			closeApp(a, logger)
			os.Exit(1)
		}
		console.PrintSuccess("Stack is compatible with the VM orchestrator")
	},
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Build and push the pipeline image without launching",
	Run: func(cmd *cobra.Command, args []string) {
		deploymentPath, _ := cmd.Flags().GetString("deployment")
		stackPath, _ := cmd.Flags().GetString("stack")

		ctx, stop := interruptContext(context.Background())
		defer stop()

		a, logger := newApp(loadConfig(cmd))
		defer closeApp(a, logger)

		ref, err := a.Prepare(ctx, deploymentPath, stackPath)
		if err != nil {
			exit(a, logger, err)
		}
		fmt.Println(ref)
	},
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. The signal
// handlers are released at that point, so a second Ctrl-C terminates the
// process during the final log drain.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		orcherrors.HandleError(orcherrors.NewConfigError(
			"Failed to load the orchestrator configuration",
			err.Error(),
			"Fix vmorch.yaml or the VMORCH_* environment variables",
			err))
		os.Exit(1)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg
}

func newApp(cfg *config.Config) (*app.App, *slog.Logger) {
	logger := logging.New(os.Stderr, cfg.LogLevel)
	return app.NewApp(cfg, logger, ui.NewConsole()), logger
}

func closeApp(a *app.App, logger *slog.Logger) {
	if err := a.Close(); err != nil {
		logger.Debug("Failed to close provider clients", "error", err)
	}
}

// exit reports err and terminates; deferred calls do not run after os.Exit.
func exit(a *app.App, logger *slog.Logger, err error) {
	orcherrors.HandleError(err)
	closeApp(a, logger)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the vmorch.yaml configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().StringP("deployment", "d", "", "Path to the deployment YAML file (required)")
	runCmd.Flags().StringP("stack", "s", "", "Path to the stack YAML file (required)")
	runCmd.Flags().Bool("dry-run", false, "Validate and print the launch request without building or launching")
	runCmd.Flags().Bool("retain-state", false, "Keep the state file after successful completion for auditing purposes")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	for _, name := range []string{"deployment", "stack"} {
		if err := runCmd.MarkFlagRequired(name); err != nil {
			slog.Error("Failed to mark flag as required for run command", "flag", name, "error", err)
		}
	}
	rootCmd.AddCommand(runCmd)

	validateCmd.Flags().StringP("stack", "s", "", "Path to the stack YAML file (required)")
	if err := validateCmd.MarkFlagRequired("stack"); err != nil {
		slog.Error("Failed to mark stack flag as required for validate command", "error", err)
	}
	rootCmd.AddCommand(validateCmd)

	prepareCmd.Flags().StringP("deployment", "d", "", "Path to the deployment YAML file (required)")
	prepareCmd.Flags().StringP("stack", "s", "", "Path to the stack YAML file (required)")
	for _, name := range []string{"deployment", "stack"} {
		if err := prepareCmd.MarkFlagRequired(name); err != nil {
			slog.Error("Failed to mark flag as required for prepare command", "flag", name, "error", err)
		}
	}
	rootCmd.AddCommand(prepareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
