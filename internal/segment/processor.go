// Package segment executes one segment end-to-end: dispatch to the rendering
// backend, optional narration synthesis, audio/video combination, and
// artifact persistence.
package segment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelpipe/reelpipe/internal/artifact"
	"github.com/reelpipe/reelpipe/internal/model"
	"github.com/reelpipe/reelpipe/internal/narration"
	"github.com/reelpipe/reelpipe/internal/render"
	"github.com/reelpipe/reelpipe/internal/store"
)

// defaultDuration is used for segments without a voiceover.
const defaultDuration = 5.0

// Renderer dispatches generation requests per segment type.
type Renderer interface {
	Generate(ctx context.Context, t model.SegmentType, req render.Request) (render.Result, error)
	PreviewScript(ctx context.Context, t model.SegmentType, req render.Request) (string, error)
}

// Synthesizer turns voiceover text into audio with a measured duration.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) (narration.Synthesis, error)
}

// ArtifactStore persists generated media.
type ArtifactStore interface {
	Save(ctx context.Context, jobID, segmentID, kind, srcPath string) (string, error)
	Fetch(ctx context.Context, artifactID string) (string, func() error, error)
	Delete(ctx context.Context, artifactID string) error
}

// Toolchain is the subset of media operations the processor needs.
type Toolchain interface {
	MatchDuration(ctx context.Context, videoPath string, target float64) (string, error)
	Mux(ctx context.Context, videoPath, audioPath string) (string, error)
	ExtractLastFrame(ctx context.Context, videoPath string) (string, error)
	BlackFrame(ctx context.Context) (string, error)
	ComposeTransition(ctx context.Context, backgroundImage, overlayVideo, audioPath string, duration float64) (string, error)
}

// Outcome carries a successful attempt's results for the orchestrator to
// commit.
type Outcome struct {
	VisualArtifactID   string
	AudioArtifactID    string
	CombinedArtifactID string
	DurationSeconds    float64
	GeneratedScript    string
}

// Processor runs single segments. It appends progress logs and the generated
// script to the store as it goes so polling clients see them mid-flight;
// terminal status commits stay with the orchestrator.
type Processor struct {
	store     *store.Store
	renderer  Renderer
	voice     Synthesizer
	artifacts ArtifactStore
	media     Toolchain
	logger    *slog.Logger
}

// NewProcessor wires a processor.
func NewProcessor(st *store.Store, renderer Renderer, voice Synthesizer, artifacts ArtifactStore, media Toolchain, logger *slog.Logger) *Processor {
	return &Processor{
		store:     st,
		renderer:  renderer,
		voice:     voice,
		artifacts: artifacts,
		media:     media,
		logger:    logger,
	}
}

// Process executes one attempt for seg. prev is the preceding segment in
// order, if any; transitions use its combined artifact as their background.
// The returned Outcome supersedes any artifact references already on seg:
// on success their stored blobs are deleted best-effort, and on failure every
// blob uploaded during this attempt is removed so no dangling reference
// survives.
func (p *Processor) Process(ctx context.Context, jobID string, seg model.Segment, prev *model.Segment) (Outcome, error) {
	logger := p.logger.With("job_id", jobID, "segment_id", seg.ID, "type", seg.Type)
	p.log(jobID, seg.ID, "Starting segment processing")

	var uploaded []string
	fail := func(step string, err error) (Outcome, error) {
		for _, id := range uploaded {
			if derr := p.artifacts.Delete(ctx, id); derr != nil {
				logger.Warn("cleanup of attempt artifact failed", "artifact_id", id, "err", derr)
			}
		}
		genErr := &model.GenerationError{Step: step, Err: err}
		p.log(jobID, seg.ID, "ERROR: "+genErr.Error())
		logger.Error("segment processing failed", "step", step, "err", err)
		return Outcome{}, genErr
	}

	// Step 1: narration.
	audioPath := ""
	duration := defaultDuration
	if seg.Voiceover != nil {
		p.log(jobID, seg.ID, fmt.Sprintf("Generating voiceover with voice: %s", seg.Voiceover.Voice))
		synth, err := p.voice.Synthesize(ctx, seg.Voiceover.Text, seg.Voiceover.Voice, seg.Voiceover.Speed)
		if err != nil {
			return fail("narration synthesis", err)
		}
		audioPath = synth.AudioPath
		duration = synth.DurationSeconds
		p.log(jobID, seg.ID, fmt.Sprintf("Voiceover generated: %.2fs", duration))
	}

	// Step 2: visual.
	var visualPath, combinedPath, script string
	var err error
	if seg.Type == model.TypeTransition {
		combinedPath, err = p.renderTransition(ctx, jobID, seg, prev, audioPath, duration)
		if err != nil {
			return fail("transition composition", err)
		}
		visualPath = combinedPath
	} else {
		visualPath, script, err = p.renderVisual(ctx, jobID, seg, duration)
		if err != nil {
			return fail("visual generation", err)
		}
		p.log(jobID, seg.ID, "Visual render complete")

		// Step 3: stretch the visual onto the narration timeline.
		if audioPath != "" {
			stretched, err := p.media.MatchDuration(ctx, visualPath, duration)
			if err != nil {
				return fail("duration matching", err)
			}
			if stretched != visualPath {
				p.log(jobID, seg.ID, fmt.Sprintf("Time-stretched video to %.2fs", duration))
				visualPath = stretched
			}
		}

		// Step 4: mux.
		if audioPath != "" {
			p.log(jobID, seg.ID, "Combining audio and video")
			combinedPath, err = p.media.Mux(ctx, visualPath, audioPath)
			if err != nil {
				return fail("audio/video combination", err)
			}
		} else {
			combinedPath = visualPath
		}
	}
	p.log(jobID, seg.ID, "Combine complete")

	// Step 5: persist artifacts.
	outcome := Outcome{DurationSeconds: duration, GeneratedScript: script}
	outcome.VisualArtifactID, err = p.artifacts.Save(ctx, jobID, seg.ID, artifact.KindVisual, visualPath)
	if err != nil {
		return fail("persist visual artifact", err)
	}
	uploaded = append(uploaded, outcome.VisualArtifactID)

	if audioPath != "" {
		outcome.AudioArtifactID, err = p.artifacts.Save(ctx, jobID, seg.ID, artifact.KindAudio, audioPath)
		if err != nil {
			return fail("persist audio artifact", err)
		}
		uploaded = append(uploaded, outcome.AudioArtifactID)
	}

	if combinedPath == visualPath {
		outcome.CombinedArtifactID = outcome.VisualArtifactID
	} else {
		outcome.CombinedArtifactID, err = p.artifacts.Save(ctx, jobID, seg.ID, artifact.KindCombined, combinedPath)
		if err != nil {
			return fail("persist combined artifact", err)
		}
		uploaded = append(uploaded, outcome.CombinedArtifactID)
	}
	p.log(jobID, seg.ID, "Artifacts persisted")

	// A re-run supersedes the previous attempt's blobs.
	p.supersede(ctx, logger, seg, outcome)

	p.log(jobID, seg.ID, "Segment completed successfully")
	logger.Info("segment processed", "duration_seconds", duration)
	return outcome, nil
}

// renderVisual obtains the generated script (when the backend produces one),
// records it immediately for inspection, then renders the clip.
func (p *Processor) renderVisual(ctx context.Context, jobID string, seg model.Segment, duration float64) (string, string, error) {
	req := render.Request{
		Description:     seg.Description,
		Title:           seg.Title,
		DurationSeconds: duration,
		Metadata:        seg.Metadata,
	}

	script := ""
	if seg.Type.ProducesScript() {
		p.log(jobID, seg.ID, "Generating script")
		generated, err := p.renderer.PreviewScript(ctx, seg.Type, req)
		if err != nil {
			return "", "", fmt.Errorf("script generation: %w", err)
		}
		script = generated
		p.recordScript(jobID, seg.ID, script)
		p.log(jobID, seg.ID, "Script generated, ready for view")
		req.Script = script
	}

	p.log(jobID, seg.ID, fmt.Sprintf("Generating %s visual (%.2fs)", seg.Type, duration))
	result, err := p.renderer.Generate(ctx, seg.Type, req)
	if err != nil {
		// Some backends hand back the script even when execution failed;
		// keep it inspectable.
		if result.Script != "" {
			p.recordScript(jobID, seg.ID, result.Script)
		}
		return "", "", err
	}
	if result.Script != "" && script == "" {
		script = result.Script
		p.recordScript(jobID, seg.ID, script)
	}
	return result.VideoPath, script, nil
}

// renderTransition builds the soundwave bridge: narration audio under a
// rendered waveform overlay composed over the previous segment's last frame.
func (p *Processor) renderTransition(ctx context.Context, jobID string, seg model.Segment, prev *model.Segment, audioPath string, duration float64) (string, error) {
	if audioPath == "" {
		return "", fmt.Errorf("transition segment requires a voiceover")
	}

	background := ""
	if prev != nil && prev.CombinedArtifactID != "" {
		prevPath, cleanup, err := p.artifacts.Fetch(ctx, prev.CombinedArtifactID)
		if err == nil {
			defer cleanup()
			frame, ferr := p.media.ExtractLastFrame(ctx, prevPath)
			if ferr == nil {
				background = frame
				p.log(jobID, seg.ID, "Extracted last frame of previous segment")
			} else {
				p.log(jobID, seg.ID, fmt.Sprintf("Warning: failed to extract last frame: %v", ferr))
			}
		} else {
			p.log(jobID, seg.ID, fmt.Sprintf("Warning: failed to fetch previous segment artifact: %v", err))
		}
	}
	if background == "" {
		frame, err := p.media.BlackFrame(ctx)
		if err != nil {
			return "", fmt.Errorf("generate fallback background: %w", err)
		}
		background = frame
	}

	p.log(jobID, seg.ID, "Generating soundwave overlay")
	result, err := p.renderer.Generate(ctx, model.TypeTransition, render.Request{
		Title:           seg.Title,
		Description:     seg.Description,
		DurationSeconds: duration,
		Metadata:        seg.Metadata,
		Script:          fmt.Sprintf(soundwaveScriptTemplate, audioPath, duration),
	})
	if err != nil {
		return "", fmt.Errorf("soundwave overlay: %w", err)
	}

	p.log(jobID, seg.ID, "Composing transition")
	return p.media.ComposeTransition(ctx, background, result.VideoPath, audioPath, duration)
}

// supersede best-effort deletes the blobs an earlier attempt left on the
// segment once the new outcome replaces them.
func (p *Processor) supersede(ctx context.Context, logger *slog.Logger, seg model.Segment, outcome Outcome) {
	old := map[string]struct{}{}
	for _, id := range []string{seg.VisualArtifactID, seg.AudioArtifactID, seg.CombinedArtifactID} {
		if id != "" {
			old[id] = struct{}{}
		}
	}
	for _, id := range []string{outcome.VisualArtifactID, outcome.AudioArtifactID, outcome.CombinedArtifactID} {
		delete(old, id)
	}
	for id := range old {
		if err := p.artifacts.Delete(ctx, id); err != nil {
			logger.Warn("delete superseded artifact failed", "artifact_id", id, "err", err)
		}
	}
}

func (p *Processor) log(jobID, segmentID, message string) {
	if err := p.store.AppendSegmentLog(jobID, segmentID, message); err != nil {
		p.logger.Warn("append segment log failed", "job_id", jobID, "segment_id", segmentID, "err", err)
	}
}

func (p *Processor) recordScript(jobID, segmentID, script string) {
	err := p.store.UpdateSegment(jobID, segmentID, func(s *model.Segment) {
		s.GeneratedScript = script
	})
	if err != nil {
		p.logger.Warn("record generated script failed", "job_id", jobID, "segment_id", segmentID, "err", err)
	}
}
