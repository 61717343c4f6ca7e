// Package assemble builds the final video from a completed job's segment
// artifacts.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/reelpipe/reelpipe/internal/artifact"
	"github.com/reelpipe/reelpipe/internal/media"
	"github.com/reelpipe/reelpipe/internal/model"
	"github.com/reelpipe/reelpipe/internal/store"
	"github.com/reelpipe/reelpipe/pkg/schema"
)

// ArtifactStore is the blob access the assembler needs.
type ArtifactStore interface {
	Save(ctx context.Context, jobID, segmentID, kind, srcPath string) (string, error)
	Fetch(ctx context.Context, artifactID string) (string, func() error, error)
	Delete(ctx context.Context, artifactID string) error
}

// Toolchain is the media work concat and postering require.
type Toolchain interface {
	Concat(ctx context.Context, inputs []string, output string) error
	Duration(ctx context.Context, path string) (float64, error)
	Poster(ctx context.Context, videoPath string, spec media.PosterSpec) (string, error)
}

// Publisher matches bus.Publisher.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Assembler concatenates a completed job's combined segment clips into one
// final artifact plus a poster frame. Assembly is on-demand and re-runnable;
// a re-run supersedes the previous final artifact.
type Assembler struct {
	store     *store.Store
	artifacts ArtifactStore
	media     Toolchain
	bus       Publisher
	workDir   string
	logger    *slog.Logger
}

// New wires an assembler. workDir holds scratch output files.
func New(st *store.Store, artifacts ArtifactStore, media Toolchain, bus Publisher, workDir string, logger *slog.Logger) *Assembler {
	return &Assembler{
		store:     st,
		artifacts: artifacts,
		media:     media,
		bus:       bus,
		workDir:   workDir,
		logger:    logger,
	}
}

// Assemble produces the final video for jobID and records its artifact ids.
// The job must be completed. A missing combined artifact reference, or one
// whose blob is gone, fails with ErrMissingArtifact; the job stays completed
// and the error surfaces to the caller.
func (a *Assembler) Assemble(ctx context.Context, jobID string) (model.Job, error) {
	job, err := a.store.Get(jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.Status != model.JobCompleted {
		return model.Job{}, fmt.Errorf("job %s has status %s, assembly requires a completed job: %w", jobID, job.Status, model.ErrInvalidState)
	}
	logger := a.logger.With("job_id", jobID)
	logger.Info("assembling final video", "segments", len(job.Segments))

	inputs := make([]string, 0, len(job.Segments))
	for _, seg := range job.Segments {
		if seg.CombinedArtifactID == "" {
			return model.Job{}, fmt.Errorf("segment %s (order %d) has no combined artifact: %w", seg.ID, seg.Order, model.ErrMissingArtifact)
		}
		path, cleanup, err := a.artifacts.Fetch(ctx, seg.CombinedArtifactID)
		if err != nil {
			return model.Job{}, fmt.Errorf("segment %s (order %d) combined artifact %s: %w", seg.ID, seg.Order, seg.CombinedArtifactID, model.ErrMissingArtifact)
		}
		defer cleanup()
		inputs = append(inputs, path)
	}

	output := filepath.Join(a.workDir, fmt.Sprintf("final-%s-%s.mp4", jobID, uuid.NewString()[:8]))
	if err := a.media.Concat(ctx, inputs, output); err != nil {
		return model.Job{}, fmt.Errorf("concatenate segments: %w", err)
	}
	defer os.Remove(output)

	finalID, err := a.artifacts.Save(ctx, jobID, "", artifact.KindFinal, output)
	if err != nil {
		return model.Job{}, fmt.Errorf("persist final artifact: %w", err)
	}

	posterID := ""
	posterPath, err := a.media.Poster(ctx, output, media.DefaultPosterSpec)
	if err != nil {
		logger.Warn("poster generation failed", "err", err)
	} else {
		defer os.Remove(posterPath)
		posterID, err = a.artifacts.Save(ctx, jobID, "", artifact.KindPoster, posterPath)
		if err != nil {
			logger.Warn("persist poster failed", "err", err)
			posterID = ""
		}
	}

	if err := a.store.SetFinalArtifact(jobID, finalID, posterID); err != nil {
		return model.Job{}, err
	}
	a.supersede(ctx, logger, job, finalID, posterID)

	duration, derr := a.media.Duration(ctx, output)
	if derr != nil {
		logger.Warn("probe final duration failed", "err", derr)
	}
	ev := schema.FinalReadyEvent{
		JobID:            jobID,
		FinalArtifactID:  finalID,
		PosterArtifactID: posterID,
		DurationSeconds:  duration,
		SegmentCount:     len(job.Segments),
		HappenedAt:       time.Now().Unix(),
	}
	if err := a.bus.PublishJSON(schema.SubjectFinalReady, ev); err != nil {
		logger.Warn("publish final ready event failed", "err", err)
	}

	logger.Info("final video assembled", "final_artifact_id", finalID, "duration_seconds", duration)
	return a.store.Get(jobID)
}

// supersede removes the previous run's final and poster blobs.
func (a *Assembler) supersede(ctx context.Context, logger *slog.Logger, old model.Job, finalID, posterID string) {
	for _, id := range []string{old.FinalArtifactID, old.PosterArtifactID} {
		if id == "" || id == finalID || id == posterID {
			continue
		}
		if err := a.artifacts.Delete(ctx, id); err != nil {
			logger.Warn("delete superseded final artifact failed", "artifact_id", id, "err", err)
		}
	}
}
