package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/reelpipe/reelpipe/internal/model"
	"github.com/reelpipe/reelpipe/internal/narration"
	"github.com/reelpipe/reelpipe/internal/render"
	"github.com/reelpipe/reelpipe/internal/store"
)

type fakeRenderer struct {
	generateCalls []render.Request
	generateTypes []model.SegmentType
	previewCalls  int
	generateErr   error
	failScript    string
}

func (r *fakeRenderer) Generate(ctx context.Context, t model.SegmentType, req render.Request) (render.Result, error) {
	r.generateCalls = append(r.generateCalls, req)
	r.generateTypes = append(r.generateTypes, t)
	if r.generateErr != nil {
		return render.Result{Script: r.failScript}, r.generateErr
	}
	return render.Result{VideoPath: "/work/visual.mp4"}, nil
}

func (r *fakeRenderer) PreviewScript(ctx context.Context, t model.SegmentType, req render.Request) (string, error) {
	r.previewCalls++
	return "print('scene')", nil
}

type fakeSynth struct {
	err   error
	calls int
}

func (s *fakeSynth) Synthesize(ctx context.Context, text, voice string, speed float64) (narration.Synthesis, error) {
	s.calls++
	if s.err != nil {
		return narration.Synthesis{}, s.err
	}
	return narration.Synthesis{AudioPath: "/work/audio.wav", DurationSeconds: 7.25}, nil
}

type fakeArtifacts struct {
	saves   []string // kind per save, in order
	deletes []string
	failOn  string // kind whose save fails
	nextID  int
}

func (a *fakeArtifacts) Save(ctx context.Context, jobID, segmentID, kind, srcPath string) (string, error) {
	if a.failOn == kind {
		return "", errors.New("storage unavailable")
	}
	a.saves = append(a.saves, kind)
	a.nextID++
	return fmt.Sprintf("%s-%d", kind, a.nextID), nil
}

func (a *fakeArtifacts) Fetch(ctx context.Context, artifactID string) (string, func() error, error) {
	return "/work/prev-combined.mp4", func() error { return nil }, nil
}

func (a *fakeArtifacts) Delete(ctx context.Context, artifactID string) error {
	a.deletes = append(a.deletes, artifactID)
	return nil
}

type fakeToolchain struct {
	matched    bool
	muxed      bool
	composed   bool
	lastFrames int
}

func (tc *fakeToolchain) MatchDuration(ctx context.Context, videoPath string, target float64) (string, error) {
	tc.matched = true
	return "/work/stretched.mp4", nil
}

func (tc *fakeToolchain) Mux(ctx context.Context, videoPath, audioPath string) (string, error) {
	tc.muxed = true
	return "/work/combined.mp4", nil
}

func (tc *fakeToolchain) ExtractLastFrame(ctx context.Context, videoPath string) (string, error) {
	tc.lastFrames++
	return "/work/last-frame.png", nil
}

func (tc *fakeToolchain) BlackFrame(ctx context.Context) (string, error) {
	return "/work/black.png", nil
}

func (tc *fakeToolchain) ComposeTransition(ctx context.Context, backgroundImage, overlayVideo, audioPath string, duration float64) (string, error) {
	tc.composed = true
	return "/work/transition.mp4", nil
}

type harness struct {
	store     *store.Store
	renderer  *fakeRenderer
	synth     *fakeSynth
	artifacts *fakeArtifacts
	media     *fakeToolchain
	proc      *Processor
}

func newHarness(t *testing.T, segs ...model.Segment) (*harness, model.Job) {
	t.Helper()
	h := &harness{
		store:     store.New(),
		renderer:  &fakeRenderer{},
		synth:     &fakeSynth{},
		artifacts: &fakeArtifacts{},
		media:     &fakeToolchain{},
	}
	h.proc = NewProcessor(h.store, h.renderer, h.synth, h.artifacts, h.media, slog.New(slog.DiscardHandler))
	job, err := h.store.Create(segs, "", 0)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return h, job
}

func voiced(t model.SegmentType) model.Segment {
	return model.Segment{
		Type:        t,
		Title:       "part",
		Description: "what to draw",
		Voiceover:   &model.Voiceover{Text: "hello", Voice: "nova", Speed: 1.0},
	}
}

func TestProcessScriptTypeWithVoiceover(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim))
	seg := job.Segments[0]

	outcome, err := h.proc.Process(context.Background(), job.ID, seg, nil)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if h.renderer.previewCalls != 1 {
		t.Fatalf("preview calls = %d, want 1", h.renderer.previewCalls)
	}
	if got := h.renderer.generateCalls[0].Script; got != "print('scene')" {
		t.Fatalf("generate request script = %q, want the previewed script", got)
	}
	if h.renderer.generateCalls[0].DurationSeconds != 7.25 {
		t.Fatalf("generate duration = %v, want the narration duration", h.renderer.generateCalls[0].DurationSeconds)
	}
	if !h.media.matched || !h.media.muxed {
		t.Fatalf("expected duration match and mux, got matched=%v muxed=%v", h.media.matched, h.media.muxed)
	}
	if outcome.DurationSeconds != 7.25 {
		t.Fatalf("outcome duration = %v, want 7.25", outcome.DurationSeconds)
	}
	if outcome.VisualArtifactID == "" || outcome.AudioArtifactID == "" || outcome.CombinedArtifactID == "" {
		t.Fatalf("missing artifact ids: %+v", outcome)
	}
	if outcome.CombinedArtifactID == outcome.VisualArtifactID {
		t.Fatal("combined artifact should be distinct when audio is muxed in")
	}
	if outcome.GeneratedScript != "print('scene')" {
		t.Fatalf("outcome script = %q", outcome.GeneratedScript)
	}

	// Script and progress logs must be visible in the store mid-run fields.
	stored, _ := h.store.Get(job.ID)
	s := stored.SegmentByID(seg.ID)
	if s.GeneratedScript != "print('scene')" {
		t.Fatalf("stored script = %q", s.GeneratedScript)
	}
	if len(s.Logs) == 0 {
		t.Fatal("no progress logs recorded")
	}
	joined := strings.Join(s.Logs, "\n")
	for _, want := range []string{"Voiceover generated", "Script generated", "Segment completed successfully"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("logs missing %q:\n%s", want, joined)
		}
	}
}

func TestProcessWithoutVoiceoverUsesDefaultDuration(t *testing.T) {
	h, job := newHarness(t, model.Segment{Type: model.TypeStats, Title: "chart"})
	seg := job.Segments[0]

	outcome, err := h.proc.Process(context.Background(), job.ID, seg, nil)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if h.synth.calls != 0 {
		t.Fatalf("synthesizer called %d times for a silent segment", h.synth.calls)
	}
	if outcome.DurationSeconds != defaultDuration {
		t.Fatalf("duration = %v, want %v", outcome.DurationSeconds, defaultDuration)
	}
	if outcome.AudioArtifactID != "" {
		t.Fatalf("unexpected audio artifact %q", outcome.AudioArtifactID)
	}
	if outcome.CombinedArtifactID != outcome.VisualArtifactID {
		t.Fatal("silent segment should reuse the visual artifact as combined")
	}
	if h.media.matched || h.media.muxed {
		t.Fatal("no duration match or mux expected without audio")
	}
}

func TestProcessAnimationSkipsScriptPreview(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeAnimation))

	if _, err := h.proc.Process(context.Background(), job.ID, job.Segments[0], nil); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if h.renderer.previewCalls != 0 {
		t.Fatalf("preview calls = %d for animation, want 0", h.renderer.previewCalls)
	}
	if h.renderer.generateCalls[0].Script != "" {
		t.Fatal("animation request should carry no script")
	}
}

func TestProcessRecordsScriptFromFailedRender(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim))
	h.renderer.generateErr = errors.New("scene raised an exception")
	h.renderer.failScript = "print('broken scene')"
	seg := job.Segments[0]

	_, err := h.proc.Process(context.Background(), job.ID, seg, nil)
	var genErr *model.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.Step != "visual generation" {
		t.Fatalf("failure step = %q", genErr.Step)
	}

	stored, _ := h.store.Get(job.ID)
	s := stored.SegmentByID(seg.ID)
	if s.GeneratedScript != "print('broken scene')" {
		t.Fatalf("failed render's script not recorded: %q", s.GeneratedScript)
	}
	if !strings.Contains(strings.Join(s.Logs, "\n"), "ERROR:") {
		t.Fatal("no failure log recorded")
	}
	if len(h.artifacts.saves) != 0 {
		t.Fatalf("artifacts saved on a failed attempt: %v", h.artifacts.saves)
	}
}

func TestProcessCleansUpUploadsOnLateFailure(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim))
	h.artifacts.failOn = "segment-combined"

	_, err := h.proc.Process(context.Background(), job.ID, job.Segments[0], nil)
	if err == nil {
		t.Fatal("expected error when combined upload fails")
	}
	// Visual and audio were uploaded before the failure and must be removed.
	if len(h.artifacts.deletes) != 2 {
		t.Fatalf("deletes = %v, want the 2 uploads from this attempt", h.artifacts.deletes)
	}
}

func TestProcessSupersedesPriorArtifacts(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim))
	segID := job.Segments[0].ID

	err := h.store.UpdateSegment(job.ID, segID, func(s *model.Segment) {
		s.VisualArtifactID = "old-visual"
		s.AudioArtifactID = "old-audio"
		s.CombinedArtifactID = "old-combined"
	})
	if err != nil {
		t.Fatalf("UpdateSegment returned error: %v", err)
	}
	stored, _ := h.store.Get(job.ID)

	if _, err := h.proc.Process(context.Background(), job.ID, *stored.SegmentByID(segID), nil); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(h.artifacts.deletes) != 3 {
		t.Fatalf("superseded deletes = %v, want the 3 old ids", h.artifacts.deletes)
	}
	for _, want := range []string{"old-visual", "old-audio", "old-combined"} {
		found := false
		for _, got := range h.artifacts.deletes {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("old artifact %s not deleted: %v", want, h.artifacts.deletes)
		}
	}
}

func TestProcessTransitionRequiresVoiceover(t *testing.T) {
	h, job := newHarness(t, model.Segment{Type: model.TypeTransition, Title: "bridge"})

	_, err := h.proc.Process(context.Background(), job.ID, job.Segments[0], nil)
	if err == nil {
		t.Fatal("expected error for transition without voiceover")
	}
	var genErr *model.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
}

func TestProcessTransitionComposesOverPreviousFrame(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim), voiced(model.TypeTransition))
	prev := job.Segments[0]
	prev.CombinedArtifactID = "prev-combined"

	outcome, err := h.proc.Process(context.Background(), job.ID, job.Segments[1], &prev)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if h.media.lastFrames != 1 {
		t.Fatalf("last frame extractions = %d, want 1", h.media.lastFrames)
	}
	if !h.media.composed {
		t.Fatal("transition was not composed")
	}
	if h.renderer.generateTypes[0] != model.TypeTransition {
		t.Fatalf("overlay rendered with type %s", h.renderer.generateTypes[0])
	}
	if !strings.Contains(h.renderer.generateCalls[0].Script, "/work/audio.wav") {
		t.Fatal("overlay script does not reference the narration audio")
	}
	if outcome.CombinedArtifactID != outcome.VisualArtifactID {
		t.Fatal("transition output is a single combined clip")
	}
}

func TestProcessNarrationFailure(t *testing.T) {
	h, job := newHarness(t, voiced(model.TypeManim))
	h.synth.err = errors.New("tts unreachable")

	_, err := h.proc.Process(context.Background(), job.ID, job.Segments[0], nil)
	var genErr *model.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.Step != "narration synthesis" {
		t.Fatalf("failure step = %q", genErr.Step)
	}
	if len(h.renderer.generateCalls) != 0 {
		t.Fatal("render attempted after narration failure")
	}
}
