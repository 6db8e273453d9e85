package app

import "context"

// validateStage reports the decision cached by Attach.
type validateStage struct {
	s *Supervisor
}

func (st *validateStage) Phase() Phase { return PhaseValidating }

func (st *validateStage) Execute(_ context.Context, _ *ExecutionContext) error {
	return st.s.validationError()
}
