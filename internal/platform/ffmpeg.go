package platform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tubestitch/tubestitch/internal/assemble"
)

// FFmpeg invocation constants
const (
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"

	ConcatListFilename = "concat_list.txt"

	// Re-encode normalization settings
	VideoCodec   = "libx264"
	VideoPreset  = "fast"
	VideoCRF     = "22"
	AudioCodec   = "aac"
	AudioBitrate = "192k"
	AudioRate    = "48000"
	ScaleFilter  = "scale=1920:1080:force_original_aspect_ratio=decrease," +
		"pad=1920:1080:(ow-iw)/2:(oh-ih)/2:black,fps=30"

	FastStartFlag = "+faststart"
	PixelFormat   = "yuv420p"

	// An output smaller than this is a failed concat even if ffmpeg
	// exited zero
	MinOutputSize = 1_000_000
)

// Stderr fragments that indicate mismatched codec/container parameters
// among the concat inputs, as opposed to ordinary I/O failures.
var incompatibleMarkers = []string{
	"non-monotonic dts",
	"non-monotonous dts",
	"do not match the corresponding output",
	"could not find codec parameters",
	"new audio stream",
	"new video stream",
	"invalid data found when processing input",
	"codec parameters",
}

// FFmpegConcat implements the concat capability by driving the ffmpeg
// concat demuxer. The fast path stream-copies; the re-encode path
// normalizes resolution, framerate, and audio so mismatched inputs can
// still be joined.
type FFmpegConcat struct {
	logger *zap.Logger
}

// NewFFmpegConcat creates the ffmpeg-backed concatenator.
func NewFFmpegConcat(logger *zap.Logger) *FFmpegConcat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegConcat{logger: logger}
}

var _ assemble.Concatenator = (*FFmpegConcat)(nil)

// Concat joins the inputs in order into outputPath. A failure whose
// stderr points at mismatched streams (or an implausibly small output
// from the stream-copy path) is reported as ErrIncompatibleStreams so
// the assembler can retry with reencode set.
func (f *FFmpegConcat) Concat(ctx context.Context, inputs []string, outputPath string, reencode bool) error {
	listPath, err := f.writeConcatList(inputs, filepath.Dir(outputPath))
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := f.BuildConcatArgs(listPath, outputPath, reencode)
	cmd := exec.CommandContext(ctx, FFmpegCommand, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("running ffmpeg",
		zap.Bool("reencode", reencode),
		zap.Int("inputs", len(inputs)))

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if runErr != nil {
		if !reencode && isIncompatibleOutput(stderr.String()) {
			return fmt.Errorf("%w: %s", assemble.ErrIncompatibleStreams, firstLine(stderr.String()))
		}
		return fmt.Errorf("ffmpeg failed: %s: %w", firstLine(stderr.String()), runErr)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", statErr)
	}
	if info.Size() < MinOutputSize {
		// A truncated stream-copy is the usual symptom of silently
		// mismatched inputs; force the fallback.
		if !reencode {
			return fmt.Errorf("%w: output only %d bytes", assemble.ErrIncompatibleStreams, info.Size())
		}
		return fmt.Errorf("ffmpeg output too small: %d bytes", info.Size())
	}

	return nil
}

// BuildConcatArgs builds the ffmpeg argument list for one concat pass.
func (f *FFmpegConcat) BuildConcatArgs(listPath, outputPath string, reencode bool) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
	}

	if reencode {
		args = append(args,
			"-vf", ScaleFilter,
			"-c:v", VideoCodec, "-preset", VideoPreset, "-crf", VideoCRF,
			"-c:a", AudioCodec, "-b:a", AudioBitrate, "-ar", AudioRate,
			"-pix_fmt", PixelFormat,
		)
	} else {
		args = append(args,
			"-fflags", "+genpts+igndts",
			"-avoid_negative_ts", "make_zero",
			"-max_muxing_queue_size", "9999",
			"-c", "copy",
		)
	}

	args = append(args, "-movflags", FastStartFlag, outputPath)
	return args
}

// ProbeDuration returns the duration of a media file in seconds using
// ffprobe.
func (f *FFmpegConcat) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, FFprobeCommand,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("run ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}

// writeConcatList writes the concat demuxer input list next to the
// output artifact. Paths are absolute so ffmpeg's -safe 0 resolution
// never depends on the working directory.
func (f *FFmpegConcat) writeConcatList(inputs []string, dir string) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	var b strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return "", fmt.Errorf("resolve input path %s: %w", input, err)
		}
		b.WriteString("file '" + strings.ReplaceAll(abs, `\`, `/`) + "'\n")
	}

	listPath := filepath.Join(dir, ConcatListFilename)
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	return listPath, nil
}

func isIncompatibleOutput(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, marker := range incompatibleMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
