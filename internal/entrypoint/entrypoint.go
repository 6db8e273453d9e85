// Package entrypoint resolves the command and arguments the remote instance
// runs inside the orchestrator image.
package entrypoint

import "vmorch/pkg/deployment"

// DefaultCommand is the entrypoint installed in orchestrator images.
var DefaultCommand = []string{"pipeline-entrypoint"}

// Argument flags understood by the pipeline entrypoint.
const (
	DeploymentIDOption = "--deployment-id"
	RunNameOption      = "--run-name"
	StepOption         = "--step"
)

// Resolver produces launch command lines.
type Resolver struct {
	command []string
}

// New creates a Resolver; an empty command selects DefaultCommand.
func New(command []string) *Resolver {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &Resolver{command: append([]string(nil), command...)}
}

// Command returns the fixed entrypoint command.
func (r *Resolver) Command() []string {
	return append([]string(nil), r.command...)
}

// Arguments returns the entrypoint arguments for one run of d.
// Steps are passed in execution order.
func (r *Resolver) Arguments(d *deployment.Deployment, runName string) []string {
	args := []string{DeploymentIDOption, d.ID(), RunNameOption, runName}
	for _, name := range d.StepNames() {
		args = append(args, StepOption, name)
	}
	return args
}
