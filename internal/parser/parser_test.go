package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmorch/pkg/deployment"
	"vmorch/pkg/stack"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseDeployment_Valid(t *testing.T) {
	path := writeFile(t, "deployment.yaml", `apiVersion: v1
kind: Deployment
metadata:
  name: digits-training
  labels:
    team: ml
annotations:
  vmorch.dev/orchestrator-image: eu.gcr.io/p/digits@sha256:abc
spec:
  schedule: "0 * * * *"
  steps:
    - name: importer
    - name: trainer
      parameters:
        epochs: "3"
  build:
    context: ./src
    dockerfile: Dockerfile
  resources:
    cpu: "2"
    memory: 4Gi
`)

	d, err := ParseDeployment(path)
	require.NoError(t, err)

	assert.Equal(t, "digits-training", d.Metadata.Name)
	assert.Equal(t, []string{"importer", "trainer"}, d.StepNames())
	assert.Equal(t, "3", d.Spec.Steps[1].Parameters["epochs"])
	assert.Equal(t, "0 * * * *", d.Spec.Schedule)
	assert.Equal(t, "./src", d.Spec.Build.Context)
	assert.Equal(t, "4Gi", d.Spec.Resources.Memory)

	image, ok := d.Annotation(deployment.ImageAnnotation)
	assert.True(t, ok)
	assert.Equal(t, "eu.gcr.io/p/digits@sha256:abc", image)
}

func TestParseDeployment_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "wrong kind",
			content: `apiVersion: v1
kind: Stack
metadata:
  name: x
spec:
  steps:
    - name: a
`,
			errMsg: "must be 'Deployment'",
		},
		{
			name: "no steps",
			content: `apiVersion: v1
kind: Deployment
metadata:
  name: x
spec:
  runName: r
`,
			errMsg: "Steps",
		},
		{
			name: "step without name",
			content: `apiVersion: v1
kind: Deployment
metadata:
  name: x
spec:
  steps:
    - parameters:
        a: b
`,
			errMsg: "is required but missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeployment(writeFile(t, "deployment.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseDeployment_FileNotFound(t *testing.T) {
	_, err := ParseDeployment("nonexistent-file.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment file not found")
}

func TestParseDeployment_MalformedYAML(t *testing.T) {
	_, err := ParseDeployment(writeFile(t, "bad.yaml", "kind: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse deployment file - malformed YAML")
}

func TestParseDeployment_PreservesKeyCase(t *testing.T) {
	path := writeFile(t, "deployment.yaml", `apiVersion: v1
kind: Deployment
metadata:
  name: digits
  labels:
    Team: ML
annotations:
  Example.COM/Owner: data-platform
spec:
  steps:
    - name: trainer
      parameters:
        learningRate: "0.01"
  build:
    context: .
    buildArgs:
      PYTHON_VERSION: "3.11"
`)

	d, err := ParseDeployment(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"PYTHON_VERSION": "3.11"}, d.Spec.Build.BuildArgs)
	assert.Equal(t, map[string]string{"Team": "ML"}, d.Metadata.Labels)
	assert.Equal(t, "0.01", d.Spec.Steps[0].Parameters["learningRate"])
	owner, ok := d.Annotation("Example.COM/Owner")
	assert.True(t, ok)
	assert.Equal(t, "data-platform", owner)
	assert.Equal(t, "ML", d.LaunchOptions()["label.Team"])
}

func TestParseStack_Valid(t *testing.T) {
	path := writeFile(t, "stack.yaml", `apiVersion: v1
kind: Stack
name: gcp-prod
orchestrator:
  name: vm
  flavor: gcp
  context: my-project/europe-west1-b
containerRegistry:
  name: gcr
  flavor: gcp
  uri: eu.gcr.io/my-project
components:
  - name: local-store
    type: artifact_store
    flavor: local
    localPath: /home/me/.store
`)

	s, err := ParseStack(path)
	require.NoError(t, err)

	assert.Equal(t, "gcp-prod", s.Name)
	assert.Equal(t, "my-project/europe-west1-b", s.Orchestrator.Context)
	require.NotNil(t, s.ContainerRegistry)
	assert.Equal(t, "eu.gcr.io/my-project", s.ContainerRegistry.URI)
	require.Len(t, s.Components, 1)
	assert.Equal(t, stack.TypeArtifactStore, s.Components[0].Type)
	assert.Equal(t, "/home/me/.store", s.Components[0].LocalPath)
}

func TestParseStack_WithoutRegistry(t *testing.T) {
	s, err := ParseStack(writeFile(t, "stack.yaml", `apiVersion: v1
kind: Stack
name: bare
orchestrator:
  name: vm
  flavor: docker
  context: ssh://ops@vm
`))
	require.NoError(t, err, "a missing registry is the validator's decision, not a parse error")
	assert.Nil(t, s.ContainerRegistry)
}
