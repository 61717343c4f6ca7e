// Package store is the single source of truth for Job and Segment state.
// Every component reads and writes through it; nothing else holds
// authoritative state across calls.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reelpipe/reelpipe/internal/model"
)

// Store keeps jobs in memory behind one lock. All writes to a job are atomic
// with respect to that lock; reads hand out deep copies so callers never see
// a partially written record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

// record pairs the job data with the two process-level flags that are not
// derivable from segment state: the run lease and the cooperative stop
// signal.
type record struct {
	job            model.Job
	runActive      bool
	pauseRequested bool
}

// New creates an empty store.
func New() *Store {
	return &Store{jobs: make(map[string]*record)}
}

// Create registers a new job from the given segment list. Segment ids are
// assigned where missing and order is normalized to the dense sequence
// 0..n-1 following the incoming order values.
func (s *Store) Create(segments []model.Segment, jobContext string, retentionDays int) (model.Job, error) {
	now := time.Now().UTC()
	prepared := make([]model.Segment, len(segments))
	for i, seg := range segments {
		if !seg.Type.Valid() {
			return model.Job{}, model.Validationf("segment %d: unknown type %q", i, seg.Type)
		}
		c := seg.Clone()
		if c.ID == "" {
			c.ID = model.NewSegmentID()
		}
		c.Status = model.SegmentPending
		c.VisualArtifactID = ""
		c.AudioArtifactID = ""
		c.CombinedArtifactID = ""
		c.DurationSeconds = 0
		c.GeneratedScript = ""
		c.Logs = nil
		c.Error = ""
		c.CreatedAt = now
		c.UpdatedAt = now
		prepared[i] = c
	}
	normalizeOrder(prepared)

	job := model.Job{
		ID:            model.NewJobID(),
		Segments:      prepared,
		Status:        model.JobIdle,
		Context:       jobContext,
		RetentionDays: retentionDays,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = &record{job: job}
	s.mu.Unlock()
	return job.Clone(), nil
}

// Get returns a snapshot of one job.
func (s *Store) Get(jobID string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	return rec.job.Clone(), nil
}

// List returns snapshots of every job, newest first.
func (s *Store) List() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete removes a job entirely. Rejected while a run is active.
func (s *Store) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if rec.runActive {
		return fmt.Errorf("job %s is running: %w", jobID, model.ErrInvalidState)
	}
	delete(s.jobs, jobID)
	return nil
}

// ReplaceSegments merges an edited segment list into the job. Matching
// segments keep their server-owned fields (status, artifacts, logs, error,
// generated script, duration); unmatched incoming segments are added as
// pending. Order is re-normalized from the incoming sequence. Rejected while
// the job is running.
func (s *Store) ReplaceSegments(jobID string, segments []model.Segment) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if rec.runActive || rec.job.Status == model.JobRunning {
		return model.Job{}, fmt.Errorf("job %s is running: %w", jobID, model.ErrInvalidState)
	}

	existing := make(map[string]model.Segment, len(rec.job.Segments))
	for _, seg := range rec.job.Segments {
		existing[seg.ID] = seg
	}

	now := time.Now().UTC()
	merged := make([]model.Segment, len(segments))
	for i, incoming := range segments {
		if !incoming.Type.Valid() {
			return model.Job{}, model.Validationf("segment %d: unknown type %q", i, incoming.Type)
		}
		c := incoming.Clone()
		if prev, ok := existing[c.ID]; ok {
			// Client-editable fields come from the incoming record; the
			// server-owned remainder is never overwritten by this call.
			c.Status = prev.Status
			c.VisualArtifactID = prev.VisualArtifactID
			c.AudioArtifactID = prev.AudioArtifactID
			c.CombinedArtifactID = prev.CombinedArtifactID
			c.DurationSeconds = prev.DurationSeconds
			c.Logs = prev.Logs
			c.Error = prev.Error
			c.GeneratedScript = prev.GeneratedScript
			c.CreatedAt = prev.CreatedAt
		} else {
			if c.ID == "" {
				c.ID = model.NewSegmentID()
			}
			c.Status = model.SegmentPending
			c.VisualArtifactID = ""
			c.AudioArtifactID = ""
			c.CombinedArtifactID = ""
			c.DurationSeconds = 0
			c.GeneratedScript = ""
			c.Logs = nil
			c.Error = ""
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		merged[i] = c
	}
	normalizeOrder(merged)

	rec.job.Segments = merged
	rec.job.UpdatedAt = now
	return rec.job.Clone(), nil
}

// DeleteSegment removes one segment and re-normalizes the order of the
// remaining segments to 0..n-1, preserving their relative order.
func (s *Store) DeleteSegment(jobID, segmentID string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if rec.runActive || rec.job.Status == model.JobRunning {
		return model.Job{}, fmt.Errorf("job %s is running: %w", jobID, model.ErrInvalidState)
	}

	kept := rec.job.Segments[:0:0]
	found := false
	for _, seg := range rec.job.Segments {
		if seg.ID == segmentID {
			found = true
			continue
		}
		kept = append(kept, seg)
	}
	if !found {
		return model.Job{}, fmt.Errorf("segment %s: %w", segmentID, model.ErrNotFound)
	}
	normalizeOrder(kept)
	rec.job.Segments = kept
	rec.job.UpdatedAt = time.Now().UTC()
	return rec.job.Clone(), nil
}

// UpdateSegment applies fn to one segment under the store lock. It is the
// orchestrator's write path for status, artifacts, duration, script, and
// error fields.
func (s *Store) UpdateSegment(jobID, segmentID string, fn func(*model.Segment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	seg := rec.job.SegmentByID(segmentID)
	if seg == nil {
		return fmt.Errorf("segment %s: %w", segmentID, model.ErrNotFound)
	}
	fn(seg)
	seg.UpdatedAt = time.Now().UTC()
	rec.job.UpdatedAt = seg.UpdatedAt
	return nil
}

// AppendSegmentLog appends one timestamped log line to a segment.
func (s *Store) AppendSegmentLog(jobID, segmentID, message string) error {
	return s.UpdateSegment(jobID, segmentID, func(seg *model.Segment) {
		seg.AppendLog(message)
	})
}

// Logs returns a copy of a segment's log lines and its current error text.
func (s *Store) Logs(jobID, segmentID string) ([]string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, "", fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	seg := rec.job.SegmentByID(segmentID)
	if seg == nil {
		return nil, "", fmt.Errorf("segment %s: %w", segmentID, model.ErrNotFound)
	}
	return append([]string(nil), seg.Logs...), seg.Error, nil
}

// SetJobStatus overwrites the job status and bumps the update timestamp.
func (s *Store) SetJobStatus(jobID string, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	rec.job.Status = status
	rec.job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetCurrentIndex records the next segment the sequential run will attempt.
func (s *Store) SetCurrentIndex(jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	rec.job.CurrentSegmentIndex = index
	rec.job.UpdatedAt = time.Now().UTC()
	return nil
}

// SetFinalArtifact records the assembled artifact (and optional poster) ids.
func (s *Store) SetFinalArtifact(jobID, finalID, posterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	rec.job.FinalArtifactID = finalID
	rec.job.PosterArtifactID = posterID
	rec.job.UpdatedAt = time.Now().UTC()
	return nil
}

// AcquireRun takes the per-job run lease and moves the job to running.
// At most one active run exists per job; a second acquire fails with
// ErrInvalidState.
func (s *Store) AcquireRun(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if rec.runActive {
		return fmt.Errorf("job %s already has an active run: %w", jobID, model.ErrInvalidState)
	}
	rec.runActive = true
	rec.pauseRequested = false
	rec.job.Status = model.JobRunning
	rec.job.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseRun drops the run lease and commits the run's terminal status.
func (s *Store) ReleaseRun(jobID string, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	rec.runActive = false
	rec.pauseRequested = false
	rec.job.Status = status
	rec.job.UpdatedAt = time.Now().UTC()
	return nil
}

// RunActive reports whether a sequential run currently owns the job.
func (s *Store) RunActive(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	return ok && rec.runActive
}

// RequestPause sets the cooperative stop signal. The run loop observes it
// only between segments; the job stays running until the in-flight segment
// commits.
func (s *Store) RequestPause(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, model.ErrNotFound)
	}
	if !rec.runActive || rec.job.Status != model.JobRunning {
		return fmt.Errorf("job %s is not running: %w", jobID, model.ErrInvalidState)
	}
	rec.pauseRequested = true
	return nil
}

// PauseRequested reports whether a pause is pending for the job.
func (s *Store) PauseRequested(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	return ok && rec.pauseRequested
}

// normalizeOrder rewrites Order to the dense sequence 0..n-1, keeping the
// segments' existing relative order (stable on equal Order values).
func normalizeOrder(segments []model.Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Order < segments[j].Order
	})
	for i := range segments {
		segments[i].Order = i
	}
}
