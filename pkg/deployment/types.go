package deployment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
)

// ImageAnnotation is the annotation key under which the prepared image
// reference is recorded for the launch stage.
const ImageAnnotation = "vmorch.dev/orchestrator-image"

// SourceCommitAnnotation records the commit of the build context, if any.
const SourceCommitAnnotation = "vmorch.dev/source-commit"

// Deployment is the fully resolved description of a pipeline run.
// It is populated by parsing a deployment YAML file.
type Deployment struct {
	APIVersion  string            `yaml:"apiVersion" validate:"required"`
	Kind        string            `yaml:"kind" validate:"required,eq=Deployment"`
	Metadata    Metadata          `yaml:"metadata" validate:"required"`
	Spec        Spec              `yaml:"spec" validate:"required"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// Metadata contains pipeline-level metadata.
type Metadata struct {
	Name        string            `yaml:"name" validate:"required"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// Spec holds the run configuration.
type Spec struct {
	// RunName is optional; a unique name is generated when empty.
	RunName string `yaml:"runName"`
	Steps   []Step `yaml:"steps" validate:"required,min=1,dive"`
	// Schedule is accepted for compatibility but never honored.
	Schedule  string    `yaml:"schedule,omitempty"`
	Build     Build     `yaml:"build"`
	Resources Resources `yaml:"resources,omitempty"`
}

// Step is a single pipeline step executed inside the instance.
type Step struct {
	Name       string            `yaml:"name" validate:"required"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// Build describes how the orchestrator image is produced.
type Build struct {
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
	BuildArgs  map[string]string `yaml:"buildArgs,omitempty"`
}

// Resources are forwarded to the provider as launch options.
type Resources struct {
	CPU    string `yaml:"cpu,omitempty"`
	Memory string `yaml:"memory,omitempty"`
}

// ID returns a stable identifier derived from the deployment content, so
// identical deployments share an ID across invocations.
func (d *Deployment) ID() string {
	content := struct {
		Name  string `json:"name"`
		Steps []Step `json:"steps"`
		Build Build  `json:"build"`
	}{d.Metadata.Name, d.Spec.Steps, d.Spec.Build}
	// json.Marshal sorts map keys, which keeps the digest stable.
	data, _ := json.Marshal(content)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Annotation returns the annotation value for key.
func (d *Deployment) Annotation(key string) (string, bool) {
	v, ok := d.Annotations[key]
	return v, ok && v != ""
}

// Annotate records an annotation for downstream stages.
func (d *Deployment) Annotate(key, value string) {
	if d.Annotations == nil {
		d.Annotations = make(map[string]string)
	}
	d.Annotations[key] = value
}

// StepNames returns the step names in execution order.
func (d *Deployment) StepNames() []string {
	names := make([]string, 0, len(d.Spec.Steps))
	for _, s := range d.Spec.Steps {
		names = append(names, s.Name)
	}
	return names
}

// LaunchOptions converts the resource section into provider launch options.
func (d *Deployment) LaunchOptions() map[string]string {
	opts := make(map[string]string)
	if d.Spec.Resources.CPU != "" {
		opts["cpu"] = d.Spec.Resources.CPU
	}
	if d.Spec.Resources.Memory != "" {
		opts["memory"] = d.Spec.Resources.Memory
	}
	maps.Copy(opts, prefixed("label.", d.Metadata.Labels))
	return opts
}

func prefixed(prefix string, m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[prefix+k] = v
	}
	return out
}
