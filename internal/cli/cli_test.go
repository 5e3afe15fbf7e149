package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/picwizard/internal/config"
	"github.com/fpang/picwizard/internal/filehandler"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.500s"},
		{75 * time.Second, "1:15"},
		{3725 * time.Second, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(sub, "b.jpg"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := ResolveInputs([]string{dir, filepath.Join(dir, "a.png")}, filehandler.ScanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 unique images, got %v", paths)
	}
	if !strings.HasSuffix(paths[0], "a.png") || !strings.HasSuffix(paths[1], "b.jpg") {
		t.Errorf("unexpected order: %v", paths)
	}

	// Explicit files are passed through even with unsupported extensions;
	// the ingestor reports them per file.
	paths, err = ResolveInputs([]string{filepath.Join(dir, "notes.txt")}, filehandler.ScanOptions{})
	if err != nil || len(paths) != 1 {
		t.Errorf("expected explicit file to be kept, got %v, %v", paths, err)
	}

	if _, err := ResolveInputs([]string{filepath.Join(dir, "missing.png")}, filehandler.ScanOptions{}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoadUploadsSkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "a.png")
	if err := os.WriteFile(good, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploads := LoadUploads([]string{good, filepath.Join(dir, "gone.png")})
	if len(uploads) != 1 || uploads[0].Name != "a.png" || uploads[0].ContentType != "image/png" {
		t.Errorf("unexpected uploads: %+v", uploads)
	}
}

func TestValidateOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	got, err := ValidateOutputDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("expected absolute path, got %s", got)
	}

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, nil, 0o644)
	if _, err := ValidateOutputDir(file); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestPromptForInput(t *testing.T) {
	var out strings.Builder
	if got := promptForInput(strings.NewReader("/tmp/pics\n"), &out); got != "/tmp/pics" {
		t.Errorf("unexpected input: %q", got)
	}
	if !strings.Contains(out.String(), "Image or directory") {
		t.Errorf("unexpected prompt: %q", out.String())
	}

	cwd, _ := os.Getwd()
	if got := promptForInput(strings.NewReader("\n"), &out); got != cwd {
		t.Errorf("empty input should return cwd, got %q", got)
	}
}

func TestImagePatterns(t *testing.T) {
	patterns := imagePatterns()
	if len(patterns) != len(filehandler.SupportedImageExtensions) {
		t.Fatalf("expected one pattern per extension, got %v", patterns)
	}
	for _, p := range patterns {
		if !strings.HasPrefix(p, "*.") {
			t.Errorf("unexpected pattern %q", p)
		}
	}
}

func TestInitConfigAppliesOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.EnvServiceURL, "http://env.example:8000")
	t.Setenv(config.EnvAPIToken, "")

	cfg := InitConfig(func(c *config.Config) {
		c.APIToken = "flag-token"
		c.OutputDir = "/tmp/out"
	})
	if cfg.ServiceURL != "http://env.example:8000" {
		t.Errorf("unexpected service URL %q", cfg.ServiceURL)
	}
	if cfg.APIToken != "flag-token" || cfg.OutputDir != "/tmp/out" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}
