package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/s3util"
)

// Saver persists an exported file and returns where it went.
type Saver interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// FileSaver writes exports into a local directory.
type FileSaver struct {
	Dir string
}

// Save writes data to Dir/name, creating Dir if needed.
func (s FileSaver) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	log.Info().Str("path", p).Int("size", len(data)).Msg("Export saved")
	return p, nil
}

// S3Saver uploads exports to a bucket under an optional key prefix.
type S3Saver struct {
	Client s3util.ObjectPutter
	Bucket string
	Prefix string
}

// Save uploads data to Bucket/Prefix/name.
func (s S3Saver) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return s3util.Upload(ctx, s.Client, s.Bucket, s3util.ObjectKey(s.Prefix, name), contentType, data)
}
