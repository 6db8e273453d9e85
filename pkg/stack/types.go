package stack

import (
	"net"
	"net/url"
	"strings"
)

// ComponentType is the role a component plays in a stack.
type ComponentType string

const (
	TypeOrchestrator      ComponentType = "orchestrator"
	TypeContainerRegistry ComponentType = "container_registry"
	TypeArtifactStore     ComponentType = "artifact_store"
	TypeMetadataStore     ComponentType = "metadata_store"
	TypeSecretsManager    ComponentType = "secrets_manager"
	TypeStepOperator      ComponentType = "step_operator"
)

// Stack is the set of infrastructure components attached for one
// execution environment. It is populated by parsing a stack YAML file.
type Stack struct {
	APIVersion        string             `yaml:"apiVersion" validate:"required"`
	Kind              string             `yaml:"kind" validate:"required,eq=Stack"`
	Name              string             `yaml:"name" validate:"required"`
	Orchestrator      Orchestrator       `yaml:"orchestrator" validate:"required"`
	ContainerRegistry *ContainerRegistry `yaml:"containerRegistry"`
	Components        []Component        `yaml:"components,omitempty" validate:"dive"`
}

// Orchestrator is the VM orchestrator component.
type Orchestrator struct {
	Name   string `yaml:"name" validate:"required"`
	Flavor string `yaml:"flavor" validate:"required"`
	// Context designates where remote instances are launched, e.g. a
	// project/zone pair or a remote Docker host.
	Context string `yaml:"context" validate:"required"`
}

// ContainerRegistry is the registry the orchestrator image is pushed to.
type ContainerRegistry struct {
	Name   string `yaml:"name" validate:"required"`
	Flavor string `yaml:"flavor" validate:"required"`
	URI    string `yaml:"uri" validate:"required"`
}

// Component is any other attached stack component.
type Component struct {
	Name   string        `yaml:"name" validate:"required"`
	Type   ComponentType `yaml:"type" validate:"required"`
	Flavor string        `yaml:"flavor" validate:"required"`
	// LocalPath is set when the component persists state only reachable
	// from the machine that configured it.
	LocalPath string `yaml:"localPath,omitempty"`
}

// IsLocal reports whether the registry URI points at the local machine and
// therefore cannot be pulled from a remote instance.
func (r *ContainerRegistry) IsLocal() bool {
	host := r.URI
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Host
		}
	}
	// Drop any repository path after the registry host.
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}
