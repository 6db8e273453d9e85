// Package validator decides whether a stack can serve a remote instance.
package validator

import (
	"fmt"

	"vmorch/pkg/stack"
)

// Validate checks that every attached component is reachable from a remote
// instance. It returns ok=false with a human-readable reason on the first
// failing check and has no side effects.
func Validate(s *stack.Stack) (bool, string) {
	if s == nil {
		return false, "No stack is attached to the VM orchestrator."
	}

	registry := s.ContainerRegistry
	if registry == nil {
		return false, fmt.Sprintf(
			"The '%s' stack has no container registry. The VM orchestrator "+
				"pushes the pipeline image to a registry that the remote "+
				"instance pulls from, so a container registry must be attached.",
			s.Name)
	}

	// Components that persist information under a local path will not be
	// visible to the pipeline once it runs on a remote instance.
	for _, c := range s.Components {
		if c.LocalPath == "" {
			continue
		}
		return false, fmt.Sprintf(
			"The VM orchestrator is configured to run pipelines on remote "+
				"instances designated by the '%s' execution context, but the "+
				"'%s' %s is a local stack component (state stored at %s) and "+
				"will not be available in the pipeline.\n"+
				"Please ensure that you always use non-local stack components "+
				"with a VM orchestrator. You should use a flavor of %s other "+
				"than '%s'.",
			s.Orchestrator.Context, c.Name, c.Type, c.LocalPath, c.Type, c.Flavor)
	}

	if registry.IsLocal() {
		return false, fmt.Sprintf(
			"The VM orchestrator is configured to run pipelines using a "+
				"container image accessible to a remote instance, but the '%s' "+
				"container registry URI '%s' points to a local container "+
				"registry. Please ensure that you always use non-local stack "+
				"components with a VM orchestrator. You should use a flavor of "+
				"container registry other than '%s'.",
			registry.Name, registry.URI, registry.Flavor)
	}

	return true, ""
}
