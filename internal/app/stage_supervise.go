package app

import (
	"context"
	"errors"
	"fmt"

	orcherrors "vmorch/internal/errors"
	"vmorch/pkg/provider"
)

// superviseStage polls the instance until it reaches a terminal status or
// the context is cancelled, then drains the remaining logs.
type superviseStage struct {
	s *Supervisor
}

func (st *superviseStage) Phase() Phase { return PhasePolling }

func (st *superviseStage) Execute(ctx context.Context, ec *ExecutionContext) error {
	s := st.s
	window := s.opts.PollInterval

	if err := st.poll(ctx, ec); err != nil {
		s.opts.Metrics.RecordPollError(s.backend.Name(), err)
		st.reportUnsupervised(ctx, ec)
		return err
	}

	ec.Phase = PhaseDraining
	drainCtx := ctx
	if ec.Interrupted {
		s.logger.Warn("Interrupt received, exiting log streaming", "instance", ec.Instance.ID)
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
	}
	if err := s.streamLogs(drainCtx, ec, 2*window); err != nil {
		s.logger.Warn("Failed to stream final logs", "instance", ec.Instance.ID, "error", err)
	}

	if ec.Interrupted {
		if url := s.logsURL(ctx, ec); url != "" {
			s.logger.Info("Please view logs directly", "url", url)
		}
		s.logger.Info("The remote instance was left running", "instance", ec.Instance.ID)
		return nil
	}
	s.logger.Info("Instance finished", "instance", ec.Instance.ID, "status", ec.Instance.Status)
	return nil
}

// poll runs the supervision loop. It returns nil on a terminal status or an
// interrupt and an error when supervision cannot continue.
func (st *superviseStage) poll(ctx context.Context, ec *ExecutionContext) error {
	s := st.s
	window := s.opts.PollInterval
	unknown := 0

	for {
		view, err := s.pollInstance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				ec.Interrupted = true
				return nil
			}
			if errors.Is(err, provider.ErrNotFound) {
				return orcherrors.NewNotFoundError(
					fmt.Sprintf("Instance %s disappeared while being supervised", ec.Instance.ID),
					"the provider no longer knows about the instance",
					"Check whether the instance was deleted outside the orchestrator",
					err)
			}
			return orcherrors.NewSupervisionError(
				fmt.Sprintf("Failed to poll instance %s", ec.Instance.ID),
				"the provider returned an error",
				"Inspect the instance with the provider's tooling",
				err)
		}

		if regressed(ec.Instance.Status, view.Status) {
			return orcherrors.NewSupervisionError(
				fmt.Sprintf("Instance %s reported status %s after %s", view.ID, view.Status, ec.Instance.Status),
				"the backend violated the monotonic status contract",
				"Report the issue for the provider backend",
				fmt.Errorf("status regressed from %s to %s", ec.Instance.Status, view.Status))
		}
		ec.Instance = view
		s.opts.Metrics.RecordPoll(s.backend.Name(), view.Status)

		if view.Status.Terminal() {
			return nil
		}

		if view.Status == provider.StatusUnknown {
			unknown++
		} else {
			unknown = 0
		}

		switch view.Status {
		case provider.StatusRunning:
			if err := s.streamLogs(ctx, ec, window); err != nil {
				return orcherrors.NewSupervisionError(
					fmt.Sprintf("Failed to stream logs of instance %s", view.ID),
					"the provider returned an error",
					"Inspect the instance with the provider's tooling",
					err)
			}
		case provider.StatusPending:
			s.logger.Debug("Instance is not running yet", "instance", view.ID)
		default:
			if unknown >= s.opts.MaxUnknownPolls {
				return orcherrors.NewSupervisionError(
					fmt.Sprintf("Instance %s reported an unknown status %d times in a row", view.ID, unknown),
					"the provider state does not map onto the instance lifecycle",
					"Inspect the instance with the provider's tooling",
					fmt.Errorf("status unknown for %d consecutive polls", unknown))
			}
			s.logger.Warn("Instance reported an unknown status, waiting", "instance", view.ID, "count", unknown)
		}

		if err := s.opts.Sleep(ctx, window); err != nil || ctx.Err() != nil {
			ec.Interrupted = true
			return nil
		}
	}
}

func (st *superviseStage) reportUnsupervised(ctx context.Context, ec *ExecutionContext) {
	s := st.s
	args := []any{"instance", ec.Instance.ID}
	if url := s.logsURL(ctx, ec); url != "" {
		args = append(args, "url", url)
	}
	s.logger.Error("Supervision stopped, the remote instance may still be running", args...)
}

// regressed reports whether next moves backwards along the lifecycle.
// Unknown statuses carry no order and never count.
func regressed(prev, next provider.Status) bool {
	if prev.Rank() == 0 || next.Rank() == 0 {
		return false
	}
	return next.Rank() < prev.Rank()
}
