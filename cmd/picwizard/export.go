package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/picwizard/internal/cli"
	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/export"
	"github.com/fpang/picwizard/internal/filehandler"
)

// export flags
var (
	exportFormat  string
	exportQuality float64
	exportMethod  string
	exportParams  []string
	exportLocal   bool
	exportPick    bool
	exportDepth   int
)

var exportCmd = &cobra.Command{
	Use:   "export [files or directories...]",
	Short: "Export every image as one archive",
	Long: `Export loads the given images, optionally enhances each of them, and
has the processing service pack the results into picwizard-batch.zip.
The archive is saved to the output directory, or to S3 when
` + "$" + `PICWIZARD_S3_BUCKET is set.

With --local the archive is built without contacting the service.

Examples:
  picwizard export ~/Pictures/trip --format jpeg --quality 0.8
  picwizard export a.png b.png --method clahe --param clip_limit=3
  picwizard export --pick --local --format tiff`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFormat, "format", "png", "Archive entry format: png, jpeg, bmp, tiff")
	f.Float64Var(&exportQuality, "quality", codec.DefaultQuality, "Encoder quality in (0, 1]")
	f.StringVarP(&exportMethod, "method", "m", "", "Enhancement applied to each image before export")
	f.StringArrayVarP(&exportParams, "param", "p", nil, "Operation parameter as key=value (repeatable)")
	f.BoolVar(&exportLocal, "local", false, "Build the archive locally instead of on the service")
	f.BoolVar(&exportPick, "pick", false, "Choose files with the native file picker")
	f.IntVar(&exportDepth, "max-depth", 0, "Directory recursion depth (0 = unlimited)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := codec.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	if err := codec.ValidateQuality(exportQuality); err != nil {
		return err
	}

	var op enhance.Operation
	if exportMethod != "" {
		if op, err = parseOperation(exportMethod, exportParams); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	uploads, err := collectUploads(args, exportPick, filehandler.ScanOptions{MaxDepth: exportDepth})
	if err != nil {
		return err
	}

	_, wb := setup(ctx, "export")
	defer wb.Close()

	if err := ingestAll(ctx, wb, uploads); err != nil {
		return err
	}

	if op != nil {
		sess := wb.Session()
		for i := 0; i < sess.Len(); i++ {
			if err := wb.SetActive(i); err != nil {
				return err
			}
			if _, err := wb.ApplyNow(ctx, op); err != nil {
				rec, _ := sess.Active()
				fmt.Printf("  ✗ %s: %v (exporting unenhanced)\n", rec.Filename, err)
			}
		}
		if err := wb.SetActive(0); err != nil {
			return err
		}
	}

	var archive *export.Archive
	if exportLocal {
		archive, err = wb.ExportAllLocal(ctx, format, exportQuality)
	} else {
		archive, err = wb.ExportAll(ctx, format, exportQuality)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Saved %s (%d image(s), %s) → %s\n", archive.Name, archive.Count, cli.FormatBytes(archive.Size), archive.Location)
	for _, e := range archive.Entries {
		fmt.Printf("  %s\n", e.Name)
	}
	return nil
}
