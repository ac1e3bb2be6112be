package platform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildConcatArgsStreamCopy(t *testing.T) {
	f := NewFFmpegConcat(nil)
	args := f.BuildConcatArgs("/tmp/list.txt", "/out/result.mp4", false)

	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-f concat",
		"-safe 0",
		"-i /tmp/list.txt",
		"-fflags +genpts+igndts",
		"-avoid_negative_ts make_zero",
		"-c copy",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected args to contain %q, got: %s", want, joined)
		}
	}

	if strings.Contains(joined, "libx264") {
		t.Error("Stream-copy args should not re-encode")
	}
	if args[len(args)-1] != "/out/result.mp4" {
		t.Errorf("Expected output path last, got %s", args[len(args)-1])
	}
}

func TestBuildConcatArgsReencode(t *testing.T) {
	f := NewFFmpegConcat(nil)
	args := f.BuildConcatArgs("/tmp/list.txt", "/out/result.mp4", true)

	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-c:v libx264",
		"-preset fast",
		"-crf 22",
		"-c:a aac",
		"-b:a 192k",
		"-ar 48000",
		"-pix_fmt yuv420p",
		"scale=1920:1080",
		"fps=30",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected args to contain %q, got: %s", want, joined)
		}
	}

	if strings.Contains(joined, "-c copy") {
		t.Error("Re-encode args should not stream-copy")
	}
}

func TestIsIncompatibleOutput(t *testing.T) {
	tests := []struct {
		stderr   string
		expected bool
	}{
		{"[mp4 @ 0x55] Non-monotonic DTS in output stream", true},
		{"Stream dimensions do not match the corresponding output", true},
		{"Could not find codec parameters for stream 0", true},
		{"Invalid data found when processing input", true},
		{"No such file or directory", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isIncompatibleOutput(tt.stderr); got != tt.expected {
			t.Errorf("isIncompatibleOutput(%q) = %v, expected %v", tt.stderr, got, tt.expected)
		}
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	f := NewFFmpegConcat(nil)

	listPath, err := f.writeConcatList([]string{
		filepath.Join(dir, "a.mp4"),
		filepath.Join(dir, "b.mp4"),
	}, dir)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("Failed to read list: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}

	for i, line := range lines {
		if !strings.HasPrefix(line, "file '") || !strings.HasSuffix(line, "'") {
			t.Errorf("Line %d has wrong format: %s", i, line)
		}
		if !filepath.IsAbs(strings.Trim(strings.TrimPrefix(line, "file '"), "'")) {
			t.Errorf("Line %d should contain an absolute path: %s", i, line)
		}
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"one\ntwo\nthree", "one"},
		{"  padded\nrest", "padded"},
		{"single", "single"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := firstLine(tt.input); got != tt.expected {
			t.Errorf("firstLine(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}
