package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/filehandler"
)

// ResolveInputs expands args into image file paths. Directories are scanned
// with opts; files are kept as given. Paths are made absolute and
// deduplicated, preserving order.
func ResolveInputs(args []string, opts filehandler.ScanOptions) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("path not found: %s", arg)
			}
			return nil, fmt.Errorf("failed to access %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		found, err := filehandler.ScanDirectory(arg, opts)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			add(p)
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %v", args)
	}
	return paths, nil
}

// LoadUploads reads every path into an Upload. Files that cannot be read
// are logged and skipped so the ingestor still sees the rest.
func LoadUploads(paths []string) []filehandler.Upload {
	uploads := make([]filehandler.Upload, 0, len(paths))
	for _, p := range paths {
		up, err := filehandler.LoadUpload(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Skipping unreadable file")
			continue
		}
		uploads = append(uploads, *up)
	}
	return uploads
}

// ValidateOutputDir creates dir if needed and returns its absolute path.
func ValidateOutputDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("failed to access output directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output path is not a directory: %s", dir)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir, nil
}
