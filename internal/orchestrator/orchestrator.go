// Package orchestrator drives the job state machine: start, pause, resume,
// and single-segment retry, with one goroutine per sequential run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reelpipe/reelpipe/internal/model"
	"github.com/reelpipe/reelpipe/internal/segment"
	"github.com/reelpipe/reelpipe/internal/store"
	"github.com/reelpipe/reelpipe/pkg/schema"
)

// Processor executes one segment attempt.
type Processor interface {
	Process(ctx context.Context, jobID string, seg model.Segment, prev *model.Segment) (segment.Outcome, error)
}

// Publisher matches bus.Publisher; events are fire-and-forget.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// task tracks an in-flight single-segment retry.
type task struct {
	jobID     string
	segmentID string
	done      chan struct{}
}

// Orchestrator owns background execution. The store's run lease serializes
// sequential runs per job; retry tasks are tracked here so a run and a retry
// never overlap on the same job.
type Orchestrator struct {
	store     *store.Store
	processor Processor
	bus       Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task

	wg sync.WaitGroup
}

// New wires an orchestrator.
func New(st *store.Store, processor Processor, bus Publisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		processor: processor,
		bus:       bus,
		logger:    logger,
		tasks:     make(map[string]*task),
	}
}

// Wait blocks until every background run and retry task has finished. Call
// during shutdown after cancelling the context passed to Start/Resume/Retry.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Start launches the sequential run for an idle or paused job, picking up at
// CurrentSegmentIndex.
func (o *Orchestrator) Start(ctx context.Context, jobID string) (model.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return model.Job{}, err
	}
	if len(job.Segments) == 0 {
		return model.Job{}, model.Validationf("job %s has no segments to process", jobID)
	}
	switch job.Status {
	case model.JobIdle, model.JobPaused:
	default:
		return model.Job{}, fmt.Errorf("job %s cannot start from status %s: %w", jobID, job.Status, model.ErrInvalidState)
	}
	return o.launch(ctx, jobID, job.CurrentSegmentIndex)
}

// Pause requests a cooperative stop. The in-flight segment finishes; the run
// loop observes the flag before the next segment and parks the job paused.
func (o *Orchestrator) Pause(jobID string) (model.Job, error) {
	if err := o.store.RequestPause(jobID); err != nil {
		return model.Job{}, err
	}
	o.logger.Info("pause requested", "job_id", jobID)
	return o.store.Get(jobID)
}

// Resume restarts a paused or failed job at its first non-completed segment
// and reports that starting index.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (model.Job, int, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return model.Job{}, 0, err
	}
	switch job.Status {
	case model.JobPaused, model.JobFailed:
	default:
		return model.Job{}, 0, fmt.Errorf("job %s cannot resume from status %s: %w", jobID, job.Status, model.ErrInvalidState)
	}
	from := len(job.Segments)
	for i, seg := range job.Segments {
		if seg.Status != model.SegmentCompleted {
			from = i
			break
		}
	}
	job, err = o.launch(ctx, jobID, from)
	return job, from, err
}

// launch acquires the run lease and spawns the run loop at index from.
func (o *Orchestrator) launch(ctx context.Context, jobID string, from int) (model.Job, error) {
	o.mu.Lock()
	if t, busy := o.tasks[jobID]; busy {
		o.mu.Unlock()
		return model.Job{}, fmt.Errorf("job %s has a retry in flight for segment %s: %w", jobID, t.segmentID, model.ErrInvalidState)
	}
	if err := o.store.AcquireRun(jobID); err != nil {
		o.mu.Unlock()
		return model.Job{}, err
	}
	o.mu.Unlock()

	if err := o.store.SetCurrentIndex(jobID, from); err != nil {
		_ = o.store.ReleaseRun(jobID, model.JobFailed)
		return model.Job{}, err
	}

	o.publishJob(jobID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, jobID)
	}()
	return o.store.Get(jobID)
}

// run is the sequential loop: one segment at a time, pause and cancellation
// observed only between segments, halt on the first failure.
func (o *Orchestrator) run(ctx context.Context, jobID string) {
	logger := o.logger.With("job_id", jobID)
	logger.Info("run started")

	for {
		if ctx.Err() != nil || o.store.PauseRequested(jobID) {
			o.finish(jobID, model.JobPaused)
			logger.Info("run paused")
			return
		}

		job, err := o.store.Get(jobID)
		if err != nil {
			logger.Error("run aborted, job vanished", "err", err)
			return
		}
		idx := job.CurrentSegmentIndex
		if idx >= len(job.Segments) {
			o.finish(jobID, model.JobCompleted)
			logger.Info("run completed", "segments", len(job.Segments))
			return
		}

		seg := job.Segments[idx]
		if seg.Status == model.SegmentCompleted {
			_ = o.store.SetCurrentIndex(jobID, idx+1)
			continue
		}

		var prev *model.Segment
		if idx > 0 {
			prev = &job.Segments[idx-1]
		}
		if err := o.processSegment(ctx, jobID, seg, prev); err != nil {
			o.finish(jobID, model.JobFailed)
			logger.Error("run halted", "segment_id", seg.ID, "order", seg.Order, "err", err)
			return
		}
		_ = o.store.SetCurrentIndex(jobID, idx+1)
	}
}

// processSegment runs one attempt and commits its terminal segment status.
func (o *Orchestrator) processSegment(ctx context.Context, jobID string, seg model.Segment, prev *model.Segment) error {
	started := time.Now()
	if err := o.store.UpdateSegment(jobID, seg.ID, func(s *model.Segment) {
		s.Status = model.SegmentProcessing
		s.Error = ""
	}); err != nil {
		return err
	}
	o.publishSegment(jobID, seg.ID, started)

	outcome, err := o.processor.Process(ctx, jobID, seg, prev)
	if err != nil {
		uerr := o.store.UpdateSegment(jobID, seg.ID, func(s *model.Segment) {
			s.Status = model.SegmentFailed
			s.Error = err.Error()
		})
		if uerr != nil {
			o.logger.Warn("commit segment failure state failed", "job_id", jobID, "segment_id", seg.ID, "err", uerr)
		}
		o.publishSegment(jobID, seg.ID, started)
		return err
	}

	if err := o.store.UpdateSegment(jobID, seg.ID, func(s *model.Segment) {
		s.Status = model.SegmentCompleted
		s.Error = ""
		s.VisualArtifactID = outcome.VisualArtifactID
		s.AudioArtifactID = outcome.AudioArtifactID
		s.CombinedArtifactID = outcome.CombinedArtifactID
		s.DurationSeconds = outcome.DurationSeconds
		if outcome.GeneratedScript != "" {
			s.GeneratedScript = outcome.GeneratedScript
		}
	}); err != nil {
		return err
	}
	o.publishSegment(jobID, seg.ID, started)
	return nil
}

// Retry reprocesses a single failed or completed segment as its own task
// unit. It returns as soon as the segment is marked processing; success does
// not resume the job. Rejected while a sequential run or another retry owns
// the job.
func (o *Orchestrator) Retry(ctx context.Context, jobID, segmentID string) (model.Job, error) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return model.Job{}, err
	}
	seg := job.SegmentByID(segmentID)
	if seg == nil {
		return model.Job{}, fmt.Errorf("segment %s in job %s: %w", segmentID, jobID, model.ErrNotFound)
	}
	switch seg.Status {
	case model.SegmentFailed, model.SegmentCompleted:
	default:
		return model.Job{}, fmt.Errorf("segment %s has status %s, only failed or completed segments can be retried: %w", segmentID, seg.Status, model.ErrInvalidState)
	}

	o.mu.Lock()
	if _, busy := o.tasks[jobID]; busy {
		o.mu.Unlock()
		return model.Job{}, fmt.Errorf("job %s already has a retry in flight: %w", jobID, model.ErrInvalidState)
	}
	if o.store.RunActive(jobID) {
		o.mu.Unlock()
		return model.Job{}, fmt.Errorf("job %s has an active run: %w", jobID, model.ErrInvalidState)
	}
	t := &task{jobID: jobID, segmentID: segmentID, done: make(chan struct{})}
	o.tasks[jobID] = t
	o.mu.Unlock()

	started := time.Now()
	if err := o.store.UpdateSegment(jobID, segmentID, func(s *model.Segment) {
		s.Status = model.SegmentProcessing
		s.Error = ""
	}); err != nil {
		o.clearTask(jobID, t)
		return model.Job{}, err
	}
	_ = o.store.AppendSegmentLog(jobID, segmentID, "Retrying segment")
	o.publishSegment(jobID, segmentID, started)

	var prev *model.Segment
	if seg.Order > 0 {
		prev = &job.Segments[seg.Order-1]
	}
	retrySeg := *seg

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.clearTask(jobID, t)

		outcome, perr := o.processor.Process(ctx, jobID, retrySeg, prev)
		if perr != nil {
			uerr := o.store.UpdateSegment(jobID, segmentID, func(s *model.Segment) {
				s.Status = model.SegmentFailed
				s.Error = perr.Error()
			})
			if uerr != nil {
				o.logger.Warn("commit retry failure state failed", "job_id", jobID, "segment_id", segmentID, "err", uerr)
			}
			o.publishSegment(jobID, segmentID, started)
			o.logger.Error("retry failed", "job_id", jobID, "segment_id", segmentID, "err", perr)
			return
		}
		uerr := o.store.UpdateSegment(jobID, segmentID, func(s *model.Segment) {
			s.Status = model.SegmentCompleted
			s.Error = ""
			s.VisualArtifactID = outcome.VisualArtifactID
			s.AudioArtifactID = outcome.AudioArtifactID
			s.CombinedArtifactID = outcome.CombinedArtifactID
			s.DurationSeconds = outcome.DurationSeconds
			if outcome.GeneratedScript != "" {
				s.GeneratedScript = outcome.GeneratedScript
			}
		})
		if uerr != nil {
			o.logger.Warn("commit retry result failed", "job_id", jobID, "segment_id", segmentID, "err", uerr)
		}
		o.publishSegment(jobID, segmentID, started)
		o.logger.Info("retry completed", "job_id", jobID, "segment_id", segmentID)
	}()

	return o.store.Get(jobID)
}

// RetryDone exposes the completion signal for the job's in-flight retry, if
// any. Tests synchronize on it.
func (o *Orchestrator) RetryDone(jobID string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[jobID]; ok {
		return t.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (o *Orchestrator) clearTask(jobID string, t *task) {
	o.mu.Lock()
	if o.tasks[jobID] == t {
		delete(o.tasks, jobID)
	}
	o.mu.Unlock()
	close(t.done)
}

// finish commits the run's terminal status and announces it.
func (o *Orchestrator) finish(jobID string, status model.JobStatus) {
	if err := o.store.ReleaseRun(jobID, status); err != nil {
		o.logger.Warn("release run failed", "job_id", jobID, "err", err)
	}
	o.publishJob(jobID)
}

func (o *Orchestrator) publishJob(jobID string) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return
	}
	ev := schema.JobLifecycleEvent{
		JobID:               job.ID,
		Status:              string(job.Status),
		CurrentSegmentIndex: job.CurrentSegmentIndex,
		SegmentCount:        len(job.Segments),
		HappenedAt:          time.Now().Unix(),
	}
	if err := o.bus.PublishJSON(schema.SubjectJobLifecycle, ev); err != nil {
		o.logger.Warn("publish job event failed", "job_id", jobID, "err", err)
	}
}

func (o *Orchestrator) publishSegment(jobID, segmentID string, started time.Time) {
	job, err := o.store.Get(jobID)
	if err != nil {
		return
	}
	seg := job.SegmentByID(segmentID)
	if seg == nil {
		return
	}
	ev := schema.SegmentLifecycleEvent{
		JobID:              jobID,
		SegmentID:          seg.ID,
		Order:              seg.Order,
		Type:               string(seg.Type),
		Status:             string(seg.Status),
		DurationSeconds:    seg.DurationSeconds,
		CombinedArtifactID: seg.CombinedArtifactID,
		Error:              seg.Error,
		ProcessingTimeMs:   time.Since(started).Milliseconds(),
		HappenedAt:         time.Now().Unix(),
	}
	if err := o.bus.PublishJSON(schema.SubjectSegmentLifecycle, ev); err != nil {
		o.logger.Warn("publish segment event failed", "job_id", jobID, "segment_id", segmentID, "err", err)
	}
}
