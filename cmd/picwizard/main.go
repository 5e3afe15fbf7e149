package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/picwizard/internal/cli"
	"github.com/fpang/picwizard/internal/config"
	"github.com/fpang/picwizard/internal/enhance"
	"github.com/fpang/picwizard/internal/export"
	"github.com/fpang/picwizard/internal/filehandler"
	"github.com/fpang/picwizard/internal/logging"
	"github.com/fpang/picwizard/internal/metrics"
	"github.com/fpang/picwizard/internal/s3util"
	"github.com/fpang/picwizard/internal/workbench"
)

// version is set at build time via -ldflags.
var version = "dev"

// Persistent flags
var (
	serviceURLFlag string
	timeoutFlag    time.Duration
	tokenFlag      string
	outFlag        string
	logLevelFlag   string
	metricsFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "picwizard",
	Short: "Image enhancement workbench",
	Long: `PicWizard uploads images into an editing session, sends them to an
image-processing service for enhancement, renders before/after comparisons
and exports the results individually or as one archive.

Examples:
  picwizard enhance photo.jpg --method gamma_correction --param gamma=1.4
  picwizard compare scan.png --method clahe --split 30 --name frame.png
  picwizard export ~/Pictures/batch --format jpeg --quality 0.8
  picwizard serve --port 8080`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevelFlag != "" {
			logging.InitWithWriter(logLevelFlag, os.Stderr)
		} else {
			logging.Init()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&serviceURLFlag, "service-url", "", "Processing service base URL (default $"+config.EnvServiceURL+" or "+config.DefaultServiceURL+")")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "Per-request timeout for the processing service")
	pf.StringVar(&tokenFlag, "token", "", "Bearer token for the processing service")
	pf.StringVarP(&outFlag, "out", "o", "", "Output directory for exports")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&metricsFlag, "metrics", "", "Write EMF metric lines to this file (\"-\" for stdout)")

	rootCmd.AddCommand(enhanceCmd, compareCmd, exportCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the environment configuration with flag overrides.
func loadConfig() *config.Config {
	return cli.InitConfig(func(c *config.Config) {
		if serviceURLFlag != "" {
			c.ServiceURL = strings.TrimRight(serviceURLFlag, "/")
		}
		if timeoutFlag > 0 {
			c.Timeout = timeoutFlag
		}
		if tokenFlag != "" {
			c.APIToken = tokenFlag
		}
		if outFlag != "" {
			c.OutputDir = outFlag
		}
		if metricsFlag != "" {
			c.Metrics = metricsFlag
		}
	})
}

// newSaver returns an S3 saver when a bucket is configured, otherwise a
// file saver on the output directory.
func newSaver(ctx context.Context, cfg *config.Config) (export.Saver, error) {
	if cfg.S3Enabled() {
		client, err := s3util.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return export.S3Saver{Client: client, Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix}, nil
	}
	dir, err := cli.ValidateOutputDir(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	return export.FileSaver{Dir: dir}, nil
}

// newEmitter opens the metrics destination. An empty target disables
// metrics; the file stays open for the life of the process.
func newEmitter(target, command string) (*metrics.Emitter, error) {
	switch target {
	case "":
		return nil, nil
	case "-":
		return metrics.NewEmitter(os.Stdout, command), nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return metrics.NewEmitter(f, command), nil
}

// setup loads configuration, logs the startup summary and builds a
// workbench for the named command.
func setup(ctx context.Context, name string, opts ...workbench.Option) (export.Saver, *workbench.Workbench) {
	start := time.Now()
	cfg := loadConfig()

	saver, err := newSaver(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare export destination")
	}
	emitter, err := newEmitter(cfg.Metrics, name)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open metrics output")
	}
	opts = append(opts, workbench.WithSaver(saver), workbench.WithMetrics(emitter))
	wb := workbench.New(cfg, opts...)

	sl := logging.NewStartupLogger(name).
		Version(version).
		Endpoint("service", cfg.ServiceURL).
		Feature("s3Export", cfg.S3Enabled()).
		Feature("authToken", cfg.APIToken != "").
		Feature("metrics", emitter != nil).
		Config("timeout", cfg.Timeout.String()).
		Config("debounce", cfg.Debounce.String()).
		Config("maxDecodes", fmt.Sprint(cfg.MaxDecodes))
	if cfg.S3Enabled() {
		sl.Endpoint("s3", "s3://"+s3util.ObjectKey(cfg.S3Bucket, cfg.S3Prefix))
	} else {
		sl.Config("outputDir", cfg.OutputDir)
	}
	sl.InitDuration(time.Since(start)).Log()

	return saver, wb
}

// collectUploads resolves the command's inputs: the native picker when
// pick is set, the args otherwise, or an interactive prompt when neither
// is given.
func collectUploads(args []string, pick bool, opts filehandler.ScanOptions) ([]filehandler.Upload, error) {
	if pick {
		picked, err := cli.PickFiles()
		if err != nil {
			return nil, err
		}
		args = picked
	}
	if len(args) == 0 {
		args = []string{cli.PromptForInput()}
	}

	paths, err := cli.ResolveInputs(args, opts)
	if err != nil {
		return nil, err
	}
	uploads := cli.LoadUploads(paths)
	if len(uploads) == 0 {
		return nil, errors.New("no readable images")
	}
	return uploads, nil
}

// parseParams turns repeated key=value flags into an operation parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}

// parseOperation builds an operation from a method name and param flags.
func parseOperation(method string, pairs []string) (enhance.Operation, error) {
	params, err := parseParams(pairs)
	if err != nil {
		return nil, err
	}
	return enhance.Parse(method, params)
}

// ingestAll uploads into wb and prints a summary of rejected files.
func ingestAll(ctx context.Context, wb *workbench.Workbench, uploads []filehandler.Upload) error {
	res, err := wb.Upload(ctx, uploads)
	if err != nil {
		return err
	}
	for _, ie := range res.Errors {
		fmt.Fprintf(os.Stderr, "  skipped %s: %v\n", ie.Filename, ie.Err)
	}
	if !res.Replaced {
		return errors.New("none of the files could be decoded")
	}
	fmt.Printf("Loaded %d image(s) in %s\n", res.Accepted(), cli.FormatDurationShort(res.Duration))
	return nil
}
