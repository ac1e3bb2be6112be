package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Output naming
const (
	OutputTimestampLayout = "2006-01-02_15-04-05"
	OutputSuffix          = "_compilation_"
	OutputExtensionMP4    = ".mp4"

	// Characters stripped from the topic before it becomes a filename
	InvalidNameChars = `<>:"/\|?*`

	MaxNameLength = 200
)

// ErrIncompatibleStreams is the concat failure class caused by mismatched
// codec or container parameters among the inputs. It is the only failure
// that triggers the re-encode fallback.
var ErrIncompatibleStreams = errors.New("incompatible input streams")

// Concatenator defines the external concatenation capability: join the
// inputs in order into a single output file, optionally re-encoding to a
// normalized format.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, outputPath string, reencode bool) error
}

// Assembler turns an ordered list of fetched files into one artifact.
// Input order is the candidate order decided upstream and is preserved
// byte for byte in the output's segment order.
type Assembler struct {
	concat    Concatenator
	outputDir string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an assembler writing artifacts into outputDir.
func New(concat Concatenator, outputDir string, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		concat:    concat,
		outputDir: outputDir,
		logger:    logger,
		now:       time.Now,
	}
}

// Assemble concatenates the inputs into a timestamped artifact for the
// topic. The fast stream-copy path runs first; an incompatible-streams
// failure gets exactly one re-encode retry. Any other failure, or a
// failed re-encode, aborts with no artifact left on disk.
func (a *Assembler) Assemble(ctx context.Context, topic string, inputs []string) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("no input files to assemble")
	}

	if err := os.MkdirAll(a.outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name := sanitizeName(topic) + OutputSuffix + a.now().Format(OutputTimestampLayout) + OutputExtensionMP4
	outputPath := filepath.Join(a.outputDir, name)

	a.logger.Info("assembling compilation",
		zap.String("topic", topic),
		zap.Int("segments", len(inputs)),
		zap.String("output", outputPath))

	err := a.concat.Concat(ctx, inputs, outputPath, false)
	if err == nil {
		return outputPath, nil
	}

	if !errors.Is(err, ErrIncompatibleStreams) {
		os.Remove(outputPath)
		return "", fmt.Errorf("concat: %w", err)
	}

	a.logger.Warn("stream copy failed, re-encoding", zap.Error(err))
	os.Remove(outputPath)

	if err := a.concat.Concat(ctx, inputs, outputPath, true); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("re-encode fallback: %w", err)
	}

	return outputPath, nil
}

// sanitizeName strips characters that are invalid in filenames (path
// separators included, so a topic can never escape the output directory)
// and truncates overly long names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(InvalidNameChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	sanitized := b.String()
	if len(sanitized) > MaxNameLength {
		sanitized = sanitized[:MaxNameLength]
	}
	return sanitized
}
