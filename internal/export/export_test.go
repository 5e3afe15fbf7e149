package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/dispatch"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/session"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newSession(names ...string) *session.Session {
	sess := session.New()
	recs := make([]*session.Record, len(names))
	for i, n := range names {
		recs[i] = session.NewRecord(n, "image/png", solid(3, 2, color.NRGBA{R: uint8(40 * i), A: 255}), nil)
	}
	sess.ReplaceAll(recs)
	return sess
}

// fakeBatch records what it was sent and returns a zip of it on download.
type fakeBatch struct {
	entries  []enhance.BatchEntry
	format   string
	quality  float64
	buildErr error
	dlErr    error
	archive  []byte
}

func (f *fakeBatch) BuildBatch(_ context.Context, entries []enhance.BatchEntry, format string, quality float64) (*enhance.BatchAck, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.entries, f.format, f.quality = entries, format, quality
	files := make([]namedData, len(entries))
	for i, e := range entries {
		files[i] = namedData{name: e.Name, data: e.Data}
	}
	var err error
	f.archive, err = pack(files)
	return &enhance.BatchAck{Status: "ready", Count: len(entries)}, err
}

func (f *fakeBatch) DownloadBatch(context.Context) ([]byte, error) {
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return f.archive, nil
}

type memorySaver struct {
	saved map[string][]byte
	err   error
}

func (m *memorySaver) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = data
	return "mem://" + name, nil
}

func TestExportAllOneEntryPerImage(t *testing.T) {
	sess := newSession("a.png", "b.png", "c.png")
	require.NoError(t, sess.SetActive(1))
	client := &fakeBatch{}
	saver := &memorySaver{}
	ind := dispatch.NewIndicator(nil)

	archive, err := New(sess, client, saver, nil, ind).ExportAll(context.Background(), codec.JPEG, 0.8)
	require.NoError(t, err)

	require.Len(t, client.entries, 3)
	assert.Equal(t, "jpeg", client.format)
	assert.Equal(t, 0.8, client.quality)
	for i, want := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.Equal(t, want, client.entries[i].Name)
		assert.Equal(t, "image/jpeg", client.entries[i].ContentType)
	}

	assert.Equal(t, ArchiveName, archive.Name)
	assert.Equal(t, "mem://"+ArchiveName, archive.Location)
	assert.Equal(t, 3, archive.Count)
	assert.Len(t, archive.Entries, 3)
	assert.Contains(t, saver.saved, ArchiveName)

	assert.Equal(t, 1, sess.ActiveIndex(), "active image must be restored")
	assert.False(t, ind.Busy())
}

func TestExportAllEncodesCurrentRaster(t *testing.T) {
	sess := newSession("a.png")
	rec, _ := sess.Active()
	require.NoError(t, sess.SetCurrent(rec.ID, solid(3, 2, color.NRGBA{G: 222, A: 255})))
	client := &fakeBatch{}

	_, err := New(sess, client, &memorySaver{}, nil, nil).ExportAll(context.Background(), codec.PNG, 1)
	require.NoError(t, err)

	img, _, err := filehandler.Decode(client.entries[0].Data)
	require.NoError(t, err)
	assert.Equal(t, uint8(222), img.NRGBAAt(0, 0).G)
}

func TestExportAllDuplicateNames(t *testing.T) {
	sess := newSession("photo.png", "photo.jpg", "Photo.PNG", "other.png")
	client := &fakeBatch{}

	_, err := New(sess, client, &memorySaver{}, nil, nil).ExportAll(context.Background(), codec.PNG, 1)
	require.NoError(t, err)

	var names []string
	for _, e := range client.entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"photo.png", "photo (1).png", "Photo (2).png", "other.png"}, names)
}

func TestExportAllFailuresRestoreActive(t *testing.T) {
	tests := []struct {
		name      string
		client    *fakeBatch
		saver     *memorySaver
		wantPhase Phase
	}{
		{"build", &fakeBatch{buildErr: errors.New("503")}, &memorySaver{}, PhaseBuild},
		{"download", &fakeBatch{dlErr: errors.New("reset")}, &memorySaver{}, PhaseDownload},
		{"save", &fakeBatch{}, &memorySaver{err: errors.New("disk full")}, PhaseSave},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newSession("a.png", "b.png")
			require.NoError(t, sess.SetActive(1))
			ind := dispatch.NewIndicator(nil)

			_, err := New(sess, tt.client, tt.saver, nil, ind).ExportAll(context.Background(), codec.PNG, 1)
			var ee *ExportError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.wantPhase, ee.Phase)
			assert.Equal(t, 1, sess.ActiveIndex())
			assert.False(t, ind.Busy())
		})
	}
}

func TestExportAllValidation(t *testing.T) {
	_, err := New(session.New(), &fakeBatch{}, &memorySaver{}, nil, nil).ExportAll(context.Background(), codec.PNG, 1)
	assert.ErrorIs(t, err, session.ErrEmpty)

	_, err = New(newSession("a.png"), &fakeBatch{}, &memorySaver{}, nil, nil).ExportAll(context.Background(), codec.PNG, 0)
	assert.ErrorIs(t, err, codec.ErrQuality)
}

func TestExportAllUninspectableArchiveStillSaved(t *testing.T) {
	sess := newSession("a.png")
	client := &opaqueBatch{}
	saver := &memorySaver{}

	archive, err := New(sess, client, saver, nil, nil).ExportAll(context.Background(), codec.PNG, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.Count)
	assert.Empty(t, archive.Entries)
	assert.Equal(t, []byte("opaque"), saver.saved[ArchiveName])
}

type opaqueBatch struct{}

func (opaqueBatch) BuildBatch(context.Context, []enhance.BatchEntry, string, float64) (*enhance.BatchAck, error) {
	return &enhance.BatchAck{}, nil
}

func (opaqueBatch) DownloadBatch(context.Context) ([]byte, error) {
	return []byte("opaque"), nil
}

func TestExportAllLocal(t *testing.T) {
	sess := newSession("a.png", "b.png")
	saver := &memorySaver{}

	archive, err := New(sess, nil, saver, nil, nil).ExportAllLocal(context.Background(), codec.TIFF, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, archive.Count)

	data := saver.saved[ArchiveName]
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, zipMethodZstd, zr.File[0].Method)

	entry, err := ReadEntry(data, "b.tiff")
	require.NoError(t, err)
	img, _, err := filehandler.Decode(entry)
	require.NoError(t, err)
	assert.Equal(t, uint8(40), img.NRGBAAt(0, 0).R)
}

func TestExportCurrent(t *testing.T) {
	sess := newSession("a.png", "b.png")
	require.NoError(t, sess.SetActive(1))
	saver := &memorySaver{}

	saved, err := New(sess, nil, saver, nil, nil).ExportCurrent(context.Background(), codec.PNG, 1)
	require.NoError(t, err)
	assert.Equal(t, "picwizard-enhanced.png", saved.Name)

	img, _, err := filehandler.Decode(saver.saved["picwizard-enhanced.png"])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds(), "exports use natural resolution")
	assert.Equal(t, uint8(40), img.NRGBAAt(0, 0).R)
}

func TestFileSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	loc, err := FileSaver{Dir: dir}.Save(context.Background(), "../escape.zip", archiveContentType, []byte("zip"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.zip"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), got)
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := Inspect([]byte("not a zip"))
	assert.Error(t, err)
	_, err = ReadEntry([]byte("not a zip"), "x")
	assert.Error(t, err)
}
