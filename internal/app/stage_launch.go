package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	orcherrors "vmorch/internal/errors"
	"vmorch/pkg/provider"
)

// launchStage starts the remote instance. Launch failures are never retried.
type launchStage struct {
	s *Supervisor
}

func (st *launchStage) Phase() Phase { return PhaseLaunching }

func (st *launchStage) Execute(ctx context.Context, ec *ExecutionContext) error {
	s := st.s
	req := s.launchRequest(ec.Deployment, ec.ImageRef, ec.RunName)
	s.logger.Info("Launching instance", "provider", s.backend.Name(), "image", req.Image)

	view, err := s.backend.Launch(ctx, req)
	if err != nil {
		cause := "the provider rejected the launch request"
		var le *provider.LaunchError
		if errors.As(err, &le) {
			cause = le.Detail
		}
		return orcherrors.NewLaunchError(
			fmt.Sprintf("Failed to launch an instance on %s", s.backend.Name()),
			cause,
			"Check provider quotas, credentials and the image reference",
			err)
	}

	ec.Instance = view
	ec.LaunchedAt = time.Now()
	s.logger.Info("Instance is now running the pipeline. Logs will be streamed soon.", "instance", view.ID, "name", view.Name)
	if url := s.logsURL(ctx, ec); url != "" {
		s.logger.Info("You can also view the logs directly", "url", url)
	}
	return nil
}
