// Package media wraps the ffmpeg/ffprobe toolchain used to measure, stretch,
// mux, and concatenate generated clips.
package media

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// runner abstracts process execution for testability.
type runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner executes commands via os/exec and returns combined output.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w\noutput: %s", name, err, string(out))
	}
	return string(out), nil
}

// FFmpeg runs media operations, writing intermediate files under WorkDir.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	runner      runner
}

// New constructs the production toolchain writing scratch files to workDir.
func New(workDir string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		workDir:     workDir,
		runner:      execRunner{},
	}
}

func (f *FFmpeg) scratch(pattern string) string {
	return filepath.Join(f.workDir, fmt.Sprintf(pattern, uuid.New().String()[:8]))
}

// Duration returns the media duration in seconds via ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return d, nil
}

// hasAudioStream reports whether the file carries an audio stream.
func (f *FFmpeg) hasAudioStream(ctx context.Context, path string) bool {
	out, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	return err == nil && strings.Contains(out, "audio")
}

// MatchDuration time-stretches a video to the target duration. Within 0.1s
// the input is returned unchanged.
func (f *FFmpeg) MatchDuration(ctx context.Context, videoPath string, target float64) (string, error) {
	if target <= 0 {
		return "", fmt.Errorf("invalid target duration %v", target)
	}
	actual, err := f.Duration(ctx, videoPath)
	if err != nil {
		return "", err
	}
	if actual <= 0 {
		return "", fmt.Errorf("invalid source duration %v for %s", actual, videoPath)
	}
	diff := actual - target
	if diff < 0.1 && diff > -0.1 {
		return videoPath, nil
	}

	speed := actual / target
	args := []string{
		"-y",
		"-i", videoPath,
		"-filter:v", fmt.Sprintf("setpts=%.6f*PTS", 1/speed),
	}
	if filter := atempoChain(speed, f.hasAudioStream(ctx, videoPath)); filter != "" {
		args = append(args, "-filter:a", filter,
			"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23",
			"-c:a", "aac")
	} else {
		args = append(args, "-an",
			"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23")
	}
	output := f.scratch("stretched_%s.mp4")
	args = append(args, output)
	if _, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		return "", fmt.Errorf("time-stretch video: %w", err)
	}
	return output, nil
}

// atempoChain builds the chained atempo filter for an audio speed change.
// ffmpeg caps each atempo stage at 0.5-2.0. Degenerate ratios produce no
// filter rather than an unbounded chain.
func atempoChain(speed float64, hasAudio bool) string {
	if !hasAudio {
		return ""
	}
	if speed <= 0 || math.IsInf(speed, 0) || math.IsNaN(speed) {
		return ""
	}
	var stages []string
	remaining := speed
	for remaining > 2.0 {
		stages = append(stages, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5 {
		stages = append(stages, "atempo=0.5")
		remaining /= 0.5
	}
	if remaining != 1.0 {
		stages = append(stages, fmt.Sprintf("atempo=%.4f", remaining))
	}
	return strings.Join(stages, ",")
}

// Mux combines a video and an audio track into one clip. When the audio runs
// longer than the video, the last frame is frozen until the audio finishes.
func (f *FFmpeg) Mux(ctx context.Context, videoPath, audioPath string) (string, error) {
	videoDur, err := f.Duration(ctx, videoPath)
	if err != nil {
		return "", err
	}
	audioDur, err := f.Duration(ctx, audioPath)
	if err != nil {
		return "", err
	}

	output := f.scratch("combined_%s.mp4")
	var args []string
	if audioDur > videoDur+0.5 {
		extra := audioDur - videoDur
		args = []string{
			"-y",
			"-i", videoPath,
			"-i", audioPath,
			"-filter_complex", fmt.Sprintf("[0:v]tpad=stop_mode=clone:stop_duration=%.3f[v]", extra),
			"-map", "[v]",
			"-map", "1:a",
			"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-b:a", "192k",
			output,
		}
	} else {
		args = []string{
			"-y",
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-b:a", "192k",
			"-shortest",
			output,
		}
	}
	if _, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		return "", fmt.Errorf("mux audio and video: %w", err)
	}
	return output, nil
}

// Concat concatenates clips into output, re-encoding every input to one
// shared resolution and frame rate so heterogeneous backends can be joined.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], output)
	}

	const (
		width  = 1280
		height = 720
		fps    = 30
	)
	var filters []string
	var streams []string
	args := []string{"-y"}
	for i, in := range inputs {
		args = append(args, "-i", in)
		filters = append(filters, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d,setsar=1[v%d]",
			i, width, height, width, height, fps, i))
		filters = append(filters, fmt.Sprintf("[%d:a]aresample=44100[a%d]", i, i))
		streams = append(streams, fmt.Sprintf("[v%d][a%d]", i, i))
	}
	filterComplex := strings.Join(filters, ";") +
		fmt.Sprintf(";%sconcat=n=%d:v=1:a=1[outv][outa]", strings.Join(streams, ""), len(inputs))

	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "[outv]",
		"-map", "[outa]",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "192k",
		output,
	)
	if _, err := f.runner.Run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("concatenate clips: %w", err)
	}
	return nil
}

// copyFile streams src to dst without buffering the whole file in memory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open single input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy single input: %w", err)
	}
	return out.Close()
}

// ExtractLastFrame writes the final frame of a video as a PNG.
func (f *FFmpeg) ExtractLastFrame(ctx context.Context, videoPath string) (string, error) {
	dur, err := f.Duration(ctx, videoPath)
	if err != nil {
		return "", err
	}
	seek := dur - 0.1
	if seek < 0 {
		seek = 0
	}
	output := f.scratch("last_frame_%s.png")
	_, err = f.runner.Run(ctx, f.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", videoPath,
		"-frames:v", "1",
		output,
	)
	if err != nil {
		return "", fmt.Errorf("extract last frame: %w", err)
	}
	return output, nil
}

// BlackFrame writes a single black 1280x720 PNG, the fallback transition
// background when no previous segment exists.
func (f *FFmpeg) BlackFrame(ctx context.Context) (string, error) {
	output := f.scratch("black_frame_%s.png")
	_, err := f.runner.Run(ctx, f.ffmpegPath,
		"-y",
		"-f", "lavfi",
		"-i", "color=c=black:s=1280x720",
		"-frames:v", "1",
		output,
	)
	if err != nil {
		return "", fmt.Errorf("generate black frame: %w", err)
	}
	return output, nil
}

// ComposeTransition layers a soundwave overlay video on a darkened still
// background and muxes the narration audio under it.
func (f *FFmpeg) ComposeTransition(ctx context.Context, backgroundImage, overlayVideo, audioPath string, duration float64) (string, error) {
	output := f.scratch("transition_%s.mp4")
	filterComplex := "[0:v]format=rgba,colorchannelmixer=aa=0.3[bg];" +
		"[1:v]format=rgba[wave];" +
		"[bg][wave]overlay=(W-w)/2:(H-h)/2:format=auto,format=yuv420p[v]"
	_, err := f.runner.Run(ctx, f.ffmpegPath,
		"-y",
		"-loop", "1",
		"-i", backgroundImage,
		"-i", overlayVideo,
		"-i", audioPath,
		"-filter_complex", filterComplex,
		"-map", "[v]",
		"-map", "2:a",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "192k",
		"-t", fmt.Sprintf("%.3f", duration),
		output,
	)
	if err != nil {
		return "", fmt.Errorf("compose transition: %w", err)
	}
	return output, nil
}
