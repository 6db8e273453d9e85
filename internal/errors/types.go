package errors

import "errors"

var (
	ErrValidationFailed  = errors.New("stack validation failed")
	ErrPrepareFailed     = errors.New("deployment preparation failed")
	ErrLaunchFailed      = errors.New("instance launch failed")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrSupervisionFailed = errors.New("instance supervision failed")
	ErrDescriptorInvalid = errors.New("descriptor invalid")
	ErrConfigInvalid     = errors.New("configuration invalid")
	ErrRuntimeFailed     = errors.New("runtime operation failed")
)

// OrchestratorError carries the user-facing context of a failure next to
// the error that caused it.
type OrchestratorError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *OrchestratorError) Error() string {
	if e.OriginalErr == nil {
		return e.Type.Error()
	}
	return e.Type.Error() + ": " + e.OriginalErr.Error()
}

func (e *OrchestratorError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the error kind, so errors.Is(err, ErrLaunchFailed) holds for
// any launch error regardless of its cause.
func (e *OrchestratorError) Is(target error) bool {
	return target == e.Type
}

func NewOrchestratorError(errorType error, context, cause, suggestion string, originalErr error) *OrchestratorError {
	return &OrchestratorError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewValidationError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrValidationFailed, context, cause, suggestion, originalErr)
}

func NewPrepareError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrPrepareFailed, context, cause, suggestion, originalErr)
}

func NewLaunchError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrLaunchFailed, context, cause, suggestion, originalErr)
}

func NewNotFoundError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrInstanceNotFound, context, cause, suggestion, originalErr)
}

func NewSupervisionError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrSupervisionFailed, context, cause, suggestion, originalErr)
}

func NewDescriptorError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrDescriptorInvalid, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *OrchestratorError {
	return NewOrchestratorError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}

// Kind returns the snake_case name of the error kind, or "unknown".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrPrepareFailed):
		return "prepare_failed"
	case errors.Is(err, ErrLaunchFailed):
		return "launch_failed"
	case errors.Is(err, ErrInstanceNotFound):
		return "instance_not_found"
	case errors.Is(err, ErrSupervisionFailed):
		return "supervision_failed"
	case errors.Is(err, ErrDescriptorInvalid):
		return "descriptor_invalid"
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrRuntimeFailed):
		return "runtime_failed"
	default:
		return "unknown"
	}
}
