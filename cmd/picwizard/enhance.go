package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/picwizard/internal/cli"
	"github.com/fpang/picwizard/internal/codec"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/export"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/workbench"
)

// enhance flags
var (
	enhanceMethod  string
	enhanceParams  []string
	enhanceFormat  string
	enhanceQuality float64
	enhancePick    bool
	enhanceDepth   int
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance [files or directories...]",
	Short: "Apply one enhancement to every image and save the results",
	Long: `Enhance loads the given images (or every image in the given
directories), applies one operation to each through the processing service
and saves each enhanced raster next to the configured output.

Palette extraction prints the extracted colors instead of saving a file.

Examples:
  picwizard enhance photo.jpg --method histogram_equalization
  picwizard enhance scans/ --method unsharp_mask --param amount=1.5 --param radius=7
  picwizard enhance --pick --method super_resolution --param scale=2`,
	RunE: runEnhance,
}

func init() {
	f := enhanceCmd.Flags()
	f.StringVarP(&enhanceMethod, "method", "m", "", "Enhancement method ("+strings.Join(methodNames(), ", ")+")")
	f.StringArrayVarP(&enhanceParams, "param", "p", nil, "Operation parameter as key=value (repeatable)")
	f.StringVar(&enhanceFormat, "format", "png", "Output format: png, jpeg, bmp, tiff")
	f.Float64Var(&enhanceQuality, "quality", codec.DefaultQuality, "Encoder quality in (0, 1]")
	f.BoolVar(&enhancePick, "pick", false, "Choose files with the native file picker")
	f.IntVar(&enhanceDepth, "max-depth", 0, "Directory recursion depth (0 = unlimited)")
	enhanceCmd.MarkFlagRequired("method")
}

func methodNames() []string {
	methods := enhance.Methods()
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		if m == enhance.MethodIdentity {
			continue
		}
		names = append(names, string(m))
	}
	return names
}

func runEnhance(cmd *cobra.Command, args []string) error {
	op, err := parseOperation(enhanceMethod, enhanceParams)
	if err != nil {
		return err
	}
	format, err := codec.ParseFormat(enhanceFormat)
	if err != nil {
		return err
	}
	if err := codec.ValidateQuality(enhanceQuality); err != nil {
		return err
	}

	ctx := cmd.Context()
	uploads, err := collectUploads(args, enhancePick, filehandler.ScanOptions{MaxDepth: enhanceDepth})
	if err != nil {
		return err
	}

	saver, wb := setup(ctx, "enhance")
	defer wb.Close()

	if err := ingestAll(ctx, wb, uploads); err != nil {
		return err
	}
	return enhanceEach(ctx, wb, saver, op, format, enhanceQuality)
}

// enhanceEach applies op to every image in turn and saves the committed
// rasters. Per-image failures are reported and skipped.
func enhanceEach(ctx context.Context, wb *workbench.Workbench, saver export.Saver, op enhance.Operation, format codec.Format, quality float64) error {
	sess := wb.Session()
	failed := 0
	for i := 0; i < sess.Len(); i++ {
		if err := wb.SetActive(i); err != nil {
			return err
		}
		rec, err := sess.Active()
		if err != nil {
			return err
		}

		out, err := wb.ApplyNow(ctx, op)
		if err != nil {
			failed++
			fmt.Printf("  ✗ %s: %v\n", rec.Filename, err)
			continue
		}

		if op.Yields() == enhance.YieldPalette {
			fmt.Printf("  %s: %s\n", rec.Filename, strings.Join(out.Palette.Hex(), " "))
			continue
		}

		data, err := codec.EncodeBytes(rec.Current(), format, quality)
		if err != nil {
			failed++
			fmt.Printf("  ✗ %s: %v\n", rec.Filename, err)
			continue
		}
		loc, err := saver.Save(ctx, enhancedName(rec.Filename, op.Method(), format), format.ContentType(), data)
		if err != nil {
			failed++
			fmt.Printf("  ✗ %s: %v\n", rec.Filename, err)
			continue
		}
		fmt.Printf("  ✓ %s → %s (%s, %s)\n", rec.Filename, loc, cli.FormatBytes(len(data)), cli.FormatDurationShort(out.Duration))
	}

	log.Info().Int("images", sess.Len()).Int("failed", failed).Str("method", string(op.Method())).Msg("Enhance run complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) failed", failed, sess.Len())
	}
	return nil
}

// enhancedName derives "<base>-<method><ext>" from an upload filename.
func enhancedName(filename string, method enhance.Method, format codec.Format) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" {
		base = "image"
	}
	return base + "-" + string(method) + format.Extension()
}
