package app

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	DefaultStateFile   = ".vmorch.state.json"
	StateSchemaVersion = "1.0"
)

// ExecutionState is the resume record of the last run of a deployment.
type ExecutionState struct {
	SchemaVersion       string    `json:"schema_version"`
	RunID               string    `json:"run_id"`
	DeploymentID        string    `json:"deployment_id"`
	LastSuccessfulStage Phase     `json:"last_successful_stage"`
	ImageRef            string    `json:"image_ref,omitempty"`
	InstanceID          string    `json:"instance_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	LastUpdatedAt       time.Time `json:"last_updated_at"`
}

// StateStore persists ExecutionState in a JSON file.
type StateStore struct {
	path string
}

// NewStateStore creates a store backed by path.
func NewStateStore(path string) *StateStore {
	if path == "" {
		path = DefaultStateFile
	}
	return &StateStore{path: path}
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the recorded state for deploymentID. It returns nil when the
// file does not exist or records a different deployment (fresh start).
func (s *StateStore) Load(deploymentID string) (*ExecutionState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.SchemaVersion != StateSchemaVersion || state.DeploymentID != deploymentID {
		return nil, nil
	}
	return &state, nil
}

// Save persists the state.
func (s *StateStore) Save(state *ExecutionState) error {
	state.LastUpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Remove deletes the state file; a missing file is not an error.
func (s *StateStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// newState creates the state for a fresh run.
func newState(deploymentID, runID string) *ExecutionState {
	now := time.Now()
	return &ExecutionState{
		SchemaVersion: StateSchemaVersion,
		RunID:         runID,
		DeploymentID:  deploymentID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}
