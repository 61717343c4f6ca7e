package media

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// scriptedRunner replays canned output per invocation and records every
// command line.
type scriptedRunner struct {
	outputs []string
	calls   [][]string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if len(r.outputs) == 0 {
		return "", nil
	}
	out := r.outputs[0]
	r.outputs = r.outputs[1:]
	return out, nil
}

func newTestFFmpeg(t *testing.T, r runner) *FFmpeg {
	t.Helper()
	return &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		workDir:     t.TempDir(),
		runner:      r,
	}
}

func argsContain(call []string, wants ...string) bool {
	joined := strings.Join(call, " ")
	for _, w := range wants {
		if !strings.Contains(joined, w) {
			return false
		}
	}
	return true
}

func TestDurationParsesProbeOutput(t *testing.T) {
	r := &scriptedRunner{outputs: []string{"12.340000\n"}}
	f := newTestFFmpeg(t, r)

	d, err := f.Duration(context.Background(), "/work/in.mp4")
	if err != nil {
		t.Fatalf("Duration returned error: %v", err)
	}
	if d != 12.34 {
		t.Fatalf("duration = %v, want 12.34", d)
	}
	if r.calls[0][0] != "ffprobe" {
		t.Fatalf("probe invoked %s", r.calls[0][0])
	}
}

func TestMatchDurationSkipsWithinTolerance(t *testing.T) {
	r := &scriptedRunner{outputs: []string{"5.05\n"}}
	f := newTestFFmpeg(t, r)

	out, err := f.MatchDuration(context.Background(), "/work/in.mp4", 5.0)
	if err != nil {
		t.Fatalf("MatchDuration returned error: %v", err)
	}
	if out != "/work/in.mp4" {
		t.Fatalf("output = %s, want the unchanged input", out)
	}
	if len(r.calls) != 1 {
		t.Fatalf("calls = %d, want probe only", len(r.calls))
	}
}

func TestMatchDurationStretchesSilentVideo(t *testing.T) {
	// probe: 10s actual; audio-stream probe returns nothing.
	r := &scriptedRunner{outputs: []string{"10.0\n", ""}}
	f := newTestFFmpeg(t, r)

	out, err := f.MatchDuration(context.Background(), "/work/in.mp4", 5.0)
	if err != nil {
		t.Fatalf("MatchDuration returned error: %v", err)
	}
	if out == "/work/in.mp4" {
		t.Fatal("expected a new stretched file")
	}

	stretch := r.calls[len(r.calls)-1]
	if stretch[0] != "ffmpeg" {
		t.Fatalf("stretch invoked %s", stretch[0])
	}
	// speed 2.0 -> setpts 0.5*PTS, audio dropped.
	if !argsContain(stretch, "setpts=0.500000*PTS", "-an") {
		t.Fatalf("unexpected stretch args: %v", stretch)
	}
}

func TestMatchDurationRejectsNonPositiveTarget(t *testing.T) {
	r := &scriptedRunner{}
	f := newTestFFmpeg(t, r)

	for _, target := range []float64{0, -3.0} {
		if _, err := f.MatchDuration(context.Background(), "/work/in.mp4", target); err == nil {
			t.Errorf("MatchDuration(%v) returned no error", target)
		}
	}
	if len(r.calls) != 0 {
		t.Fatalf("toolchain invoked %d times for invalid targets", len(r.calls))
	}
}

func TestMatchDurationRejectsNonPositiveSource(t *testing.T) {
	// A broken clip can probe as zero-length; that must fail instead of
	// producing a degenerate stretch ratio.
	r := &scriptedRunner{outputs: []string{"0.0\n"}}
	f := newTestFFmpeg(t, r)

	if _, err := f.MatchDuration(context.Background(), "/work/in.mp4", 5.0); err == nil {
		t.Fatal("expected error for zero-length source")
	}
}

func TestAtempoChainTerminatesOnExtremeRatios(t *testing.T) {
	done := make(chan string, 1)
	go func() {
		done <- atempoChain(math.Inf(1), true)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("atempoChain did not return for an infinite ratio")
	}

	go func() {
		done <- atempoChain(0, true)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("atempoChain did not return for a zero ratio")
	}
}

func TestAtempoChain(t *testing.T) {
	cases := []struct {
		speed float64
		want  string
	}{
		{speed: 1.5, want: "atempo=1.5000"},
		{speed: 5.0, want: "atempo=2.0,atempo=2.0,atempo=1.2500"},
		{speed: 0.25, want: "atempo=0.5,atempo=0.5000"},
		{speed: 1.0, want: ""},
	}
	for _, tc := range cases {
		if got := atempoChain(tc.speed, true); got != tc.want {
			t.Errorf("atempoChain(%v) = %q, want %q", tc.speed, got, tc.want)
		}
	}
	if got := atempoChain(3.0, false); got != "" {
		t.Errorf("atempoChain without audio = %q, want empty", got)
	}
}

func TestMuxFreezesLastFrameForLongAudio(t *testing.T) {
	// video 4s, audio 7s -> tpad by 3s.
	r := &scriptedRunner{outputs: []string{"4.0\n", "7.0\n"}}
	f := newTestFFmpeg(t, r)

	if _, err := f.Mux(context.Background(), "/work/v.mp4", "/work/a.wav"); err != nil {
		t.Fatalf("Mux returned error: %v", err)
	}
	mux := r.calls[len(r.calls)-1]
	if !argsContain(mux, "tpad=stop_mode=clone:stop_duration=3.000", "-map [v]", "-map 1:a") {
		t.Fatalf("unexpected mux args: %v", mux)
	}
}

func TestMuxShortAudioUsesShortest(t *testing.T) {
	r := &scriptedRunner{outputs: []string{"6.0\n", "6.2\n"}}
	f := newTestFFmpeg(t, r)

	if _, err := f.Mux(context.Background(), "/work/v.mp4", "/work/a.wav"); err != nil {
		t.Fatalf("Mux returned error: %v", err)
	}
	mux := r.calls[len(r.calls)-1]
	if !argsContain(mux, "-shortest") || argsContain(mux, "tpad") {
		t.Fatalf("unexpected mux args: %v", mux)
	}
}

func TestConcatSingleInputCopiesFile(t *testing.T) {
	r := &scriptedRunner{}
	f := newTestFFmpeg(t, r)

	in := filepath.Join(t.TempDir(), "only.mp4")
	if err := os.WriteFile(in, []byte("clip-bytes"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	out := filepath.Join(t.TempDir(), "final.mp4")

	if err := f.Concat(context.Background(), []string{in}, out); err != nil {
		t.Fatalf("Concat returned error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Fatalf("output = %q", data)
	}
	if len(r.calls) != 0 {
		t.Fatalf("ffmpeg invoked %d times for a single input", len(r.calls))
	}
}

func TestConcatBuildsNormalizingFilter(t *testing.T) {
	r := &scriptedRunner{}
	f := newTestFFmpeg(t, r)

	err := f.Concat(context.Background(), []string{"/work/a.mp4", "/work/b.mp4", "/work/c.mp4"}, "/work/final.mp4")
	if err != nil {
		t.Fatalf("Concat returned error: %v", err)
	}
	call := r.calls[0]
	if !argsContain(call, "concat=n=3:v=1:a=1", "scale=1280:720", "fps=30", "/work/final.mp4") {
		t.Fatalf("unexpected concat args: %v", call)
	}
	inputs := 0
	for _, a := range call {
		if a == "-i" {
			inputs++
		}
	}
	if inputs != 3 {
		t.Fatalf("input count = %d, want 3", inputs)
	}
}

func TestConcatRejectsEmptyInput(t *testing.T) {
	f := newTestFFmpeg(t, &scriptedRunner{})
	if err := f.Concat(context.Background(), nil, "/work/out.mp4"); err == nil {
		t.Fatal("expected error for empty input list")
	}
}

func TestExtractLastFrameSeeksNearEnd(t *testing.T) {
	r := &scriptedRunner{outputs: []string{"8.0\n"}}
	f := newTestFFmpeg(t, r)

	out, err := f.ExtractLastFrame(context.Background(), "/work/v.mp4")
	if err != nil {
		t.Fatalf("ExtractLastFrame returned error: %v", err)
	}
	if !strings.HasSuffix(out, ".png") {
		t.Fatalf("output = %s, want a png", out)
	}
	call := r.calls[len(r.calls)-1]
	if !argsContain(call, "-ss 7.900", "-frames:v 1") {
		t.Fatalf("unexpected extract args: %v", call)
	}
}

func TestComposeTransitionArgs(t *testing.T) {
	r := &scriptedRunner{}
	f := newTestFFmpeg(t, r)

	out, err := f.ComposeTransition(context.Background(), "/work/bg.png", "/work/wave.mp4", "/work/a.wav", 3.5)
	if err != nil {
		t.Fatalf("ComposeTransition returned error: %v", err)
	}
	if !strings.HasSuffix(out, ".mp4") {
		t.Fatalf("output = %s", out)
	}
	call := r.calls[0]
	if !argsContain(call, "colorchannelmixer=aa=0.3", "-map 2:a", "-t 3.500", "-loop 1") {
		t.Fatalf("unexpected compose args: %v", call)
	}
}
