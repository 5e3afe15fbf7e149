package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

// ArchiveEntry is one file in an archive listing.
type ArchiveEntry struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// Inspect lists the entries of a zip archive. Stored, deflate and zstd
// (method 93) entries are all readable.
func Inspect(data []byte) ([]ArchiveEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())

	entries := make([]ArchiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, ArchiveEntry{Name: f.Name, Size: f.UncompressedSize64})
	}
	return entries, nil
}

// ReadEntry returns the decompressed contents of one archive entry.
func ReadEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %q not in archive", name)
}

// namedData is one file to pack.
type namedData struct {
	name string
	data []byte
}

// pack builds a zip archive locally, compressing every entry with zstd.
func pack(files []namedData) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zipMethodZstd, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))

	now := time.Now()
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zipMethodZstd,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
