package jobstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Store persists Job records as one JSON file per id under Dir.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore returns a Store rooted at dir, creating it on demand.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job state dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// NewID returns a fresh, globally unique job id.
func NewID() string {
	return uuid.NewString()
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save serialises job to JSON and writes it atomically via
// write-temp-then-rename, so a crash mid-write never leaves a torn file.
func (s *Store) Save(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(job)
}

func (s *Store) saveLocked(job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	final := s.pathFor(job.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename job %s into place: %w", job.ID, err)
	}
	return nil
}

// UpdateStage transitions job to stage, touches UpdatedAt, and persists
// the result. Returns the updated job.
func (s *Store) UpdateStage(job Job, stage Stage) (Job, error) {
	job.Stage = stage
	job.UpdatedAt = nowMillis()
	if err := s.Save(job); err != nil {
		return job, err
	}
	return job, nil
}

// UpdateStatus transitions job to status with an optional reason
// (expected non-empty iff status is failed or skipped), touches
// UpdatedAt, and persists the result.
func (s *Store) UpdateStatus(job Job, status Status, reason string) (Job, error) {
	job.Status = status
	job.ErrorReason = reason
	job.UpdatedAt = nowMillis()
	if err := s.Save(job); err != nil {
		return job, err
	}
	return job, nil
}

// Load reads every *.json file in dir. Files that fail to parse are
// logged and skipped, not fatal.
func (s *Store) Load() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read job state dir %s: %w", s.dir, err)
	}

	var jobs []Job
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("jobstore: failed to read job file, skipping", "file", entry.Name(), "error", err)
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			slog.Warn("jobstore: failed to parse job file, skipping", "file", entry.Name(), "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// IsActiveFor reports whether any job in jobs has InputPath == path and a
// non-terminal status. This is the duplicate-suppression oracle consulted
// by the scan cycle.
func IsActiveFor(jobs []Job, path string) bool {
	for _, j := range jobs {
		if j.InputPath == path && j.Status.IsActive() {
			return true
		}
	}
	return false
}
