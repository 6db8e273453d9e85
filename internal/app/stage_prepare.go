package app

import (
	"context"
	"fmt"

	orcherrors "vmorch/internal/errors"
)

// prepareStage resolves the image reference and warns about schedules.
type prepareStage struct {
	s *Supervisor
}

func (st *prepareStage) Phase() Phase { return PhasePreparing }

func (st *prepareStage) Execute(ctx context.Context, ec *ExecutionContext) error {
	d := ec.Deployment
	if d.Spec.Schedule != "" {
		st.s.logger.Warn("The VM orchestrator does not support schedules. The schedule will be ignored and the pipeline will run immediately.",
			"schedule", d.Spec.Schedule)
	}

	if st.s.opts.Preparer == nil {
		return orcherrors.NewPrepareError(
			"No image preparer is configured",
			"the supervisor cannot resolve an image reference",
			"Configure an image builder for the orchestrator",
			nil)
	}

	ref, err := st.s.opts.Preparer.Prepare(ctx, d, ec.Stack)
	if err != nil {
		return orcherrors.NewPrepareError(
			fmt.Sprintf("Failed to prepare the image for pipeline '%s'", d.Metadata.Name),
			"the image could not be built or pushed",
			"Check the build context and the registry credentials",
			err)
	}
	ec.ImageRef = ref
	return nil
}
