package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExperimentStatus is the lifecycle state of one experiment.
type ExperimentStatus string

const (
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentConcluded ExperimentStatus = "concluded"
)

// Experiment is a lightweight hypothesis-result log entry, stored as one
// JSON file so conclude can rewrite it in place.
type Experiment struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Hypothesis  string           `json:"hypothesis"`
	Status      ExperimentStatus `json:"status"`
	Result      string           `json:"result,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	ConcludedAt *time.Time       `json:"concluded_at,omitempty"`
}

// StartExperiment creates a new running experiment.
func (s *Store) StartExperiment(title, hypothesis string) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, "experiments")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Experiment{}, fmt.Errorf("ops: list experiments: %w", err)
	}

	exp := Experiment{
		ID:         fmt.Sprintf("EXP-%04d", len(entries)+1),
		Title:      title,
		Hypothesis: hypothesis,
		Status:     ExperimentRunning,
		StartedAt:  s.now().UTC(),
	}
	if err := s.writeExperimentLocked(exp); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// GetExperiment reads one experiment by ID.
func (s *Store) GetExperiment(id string) (Experiment, error) {
	data, err := os.ReadFile(s.experimentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Experiment{}, fmt.Errorf("ops: experiment %q not found", id)
		}
		return Experiment{}, fmt.Errorf("ops: read experiment %s: %w", id, err)
	}
	var exp Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return Experiment{}, fmt.Errorf("ops: decode experiment %s: %w", id, err)
	}
	return exp, nil
}

// ConcludeExperiment marks an experiment concluded with the given result.
// Concluding twice is an error.
func (s *Store) ConcludeExperiment(id, result string) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, err := s.GetExperiment(id)
	if err != nil {
		return Experiment{}, err
	}
	if exp.Status == ExperimentConcluded {
		return Experiment{}, fmt.Errorf("ops: experiment %s already concluded", id)
	}

	now := s.now().UTC()
	exp.Status = ExperimentConcluded
	exp.Result = result
	exp.ConcludedAt = &now
	if err := s.writeExperimentLocked(exp); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

func (s *Store) experimentPath(id string) string {
	return filepath.Join(s.dir, "experiments", id+".json")
}

func (s *Store) writeExperimentLocked(exp Experiment) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("ops: marshal experiment: %w", err)
	}
	if err := os.WriteFile(s.experimentPath(exp.ID), data, 0o644); err != nil {
		return fmt.Errorf("ops: write experiment %s: %w", exp.ID, err)
	}
	return nil
}
