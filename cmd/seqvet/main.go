// seqvet computes quality control statistics for FASTQ and BAM files.
package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tkoski/seqvet/internal/adapters"
	"github.com/tkoski/seqvet/internal/metrics"
	"github.com/tkoski/seqvet/internal/pipeline"
	"github.com/tkoski/seqvet/internal/report"
	"github.com/tkoski/seqvet/internal/source"
)

var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type runFlags struct {
	jsonPath    string
	adapterFile string
	technology  string

	fragmentLength int
	sampleEvery    int
	maxUnique      int
	dedupBits      int

	thresholdFraction float64
	minThreshold      uint64
	maxThreshold      uint64

	batchSize int
	workers   int
	progress  bool
	quiet     bool
}

func rootCommand() *cobra.Command {
	var flags runFlags

	root := &cobra.Command{
		Use:   "seqvet [flags] <input>",
		Short: "Quality control for FASTQ and BAM sequencing files",
		Long: `seqvet streams a FASTQ or BAM file (plain, gzip, bgzf or zstd compressed)
and reports base quality, adapter contamination, duplication estimates,
overrepresented sequences, per-tile quality and nanopore channel activity.

The full report is written as JSON; a short summary is printed to stdout.
Use "-" or no argument to read from stdin.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runQC(path, flags)
		},
	}

	root.Flags().StringVar(&flags.jsonPath, "json", "",
		"JSON report path (default: <input basename>.json)")
	root.Flags().StringVar(&flags.adapterFile, "adapter-file", "",
		"adapter probe list (tab-separated name/technology/sequence)")
	root.Flags().StringVar(&flags.technology, "technology", "",
		"sequencing technology: illumina, nanopore or all (default: guess)")
	root.Flags().IntVar(&flags.fragmentLength, "overrepresentation-fragment-length", metrics.DefaultFragmentLength,
		"length of the sampled read prefix, at most 31")
	root.Flags().IntVar(&flags.sampleEvery, "overrepresentation-sample-every", metrics.DefaultSampleEvery,
		"sample every n-th read for overrepresentation analysis")
	root.Flags().IntVar(&flags.maxUnique, "max-unique-sequences", metrics.DefaultMaxUnique,
		"maximum unique fragments to store; more improves sensitivity at the cost of memory")
	root.Flags().IntVar(&flags.dedupBits, "deduplication-estimate-bits", metrics.DefaultDedupBits,
		"duplication table size as a power of two; memory use is 2^bits * 2 bytes")
	root.Flags().Float64Var(&flags.thresholdFraction, "overrepresentation-threshold-fraction", report.DefaultFractionThreshold,
		"fraction of sampled reads above which a fragment is overrepresented")
	root.Flags().Uint64Var(&flags.minThreshold, "overrepresentation-min-threshold", report.DefaultMinThreshold,
		"minimum count for a fragment to be overrepresented, for small files")
	root.Flags().Uint64Var(&flags.maxThreshold, "overrepresentation-max-threshold", 0,
		"count above which a fragment is always overrepresented, 0 for unlimited")
	root.Flags().IntVar(&flags.batchSize, "batch-size", 0,
		"records per batch (default: 4096)")
	root.Flags().IntVarP(&flags.workers, "workers", "w", 0,
		"accumulator goroutines; 1 disables concurrency (default: GOMAXPROCS)")
	root.Flags().BoolVar(&flags.progress, "progress", false,
		"force the progress bar even when stderr is not a terminal")
	root.Flags().BoolVarP(&flags.quiet, "quiet", "q", false,
		"suppress the stdout summary")

	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(reportCommand())
	root.AddCommand(versionCommand())
	return root
}

func runQC(path string, flags runFlags) error {
	if err := validateTechnology(flags.technology); err != nil {
		return err
	}

	in, size, closeIn, err := openInput(path)
	if err != nil {
		return err
	}
	defer closeIn()

	raw := io.Reader(in)
	var bar *pb.ProgressBar
	if showProgress(flags.progress, size) {
		bar = pb.Full.Start64(size)
		bar.Set(pb.Bytes, true)
		defer bar.Finish()
		raw = bar.NewProxyReader(in)
	}

	src, err := source.New(raw, path)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck // decompressor close after full read

	technology := flags.technology
	if technology == "" {
		technology = adapters.GuessTechnology(src.Preview, src.HeaderText)
	}
	probes, err := loadAdapters(flags.adapterFile, technology)
	if err != nil {
		return err
	}

	cfg := pipeline.Config{
		BatchSize:          flags.batchSize,
		Workers:            flags.workers,
		FragmentLength:     flags.fragmentLength,
		SampleEvery:        flags.sampleEvery,
		MaxUniqueFragments: flags.maxUnique,
		DedupBits:          flags.dedupBits,
		Adapters:           adapters.Sequences(probes),
	}
	res, err := pipeline.Run(src, cfg)
	if err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	doc := buildDocument(path, src, technology, probes, res, flags)

	jsonPath := flags.jsonPath
	if jsonPath == "" {
		jsonPath = defaultJSONPath(path)
	}
	if err := writeJSONFile(jsonPath, doc); err != nil {
		return err
	}

	if !flags.quiet {
		if err := report.WriteText(os.Stdout, doc); err != nil {
			return err
		}
		fmt.Printf("\nfull report: %s\n", jsonPath)
	}
	return nil
}

func buildDocument(path string, src *source.Input, technology string, probes []adapters.Adapter, res *pipeline.Result, flags runFlags) *report.Document {
	names := make([]string, len(probes))
	for i, p := range probes {
		names[i] = p.Name
	}

	maxThreshold := flags.maxThreshold
	if maxThreshold == 0 {
		maxThreshold = math.MaxUint64
	}
	thresholds := report.Thresholds{
		Fraction: flags.thresholdFraction,
		Min:      flags.minThreshold,
		Max:      maxThreshold,
	}

	meta := report.Meta{Tool: "seqvet", Version: version}
	input := report.Input{
		Filename:    displayName(path),
		Format:      src.Format.String(),
		Compression: src.Compression.String(),
		Technology:  technology,
	}
	summaries := report.Summaries{
		QC:          res.QC,
		Tiles:       res.Tiles,
		Adapters:    res.Adapters,
		Duplication: res.Duplication,
		Dedup:       res.Dedup,
		Nano:        res.Nano,
	}
	return report.Build(meta, input, summaries, names, thresholds)
}

func validateTechnology(technology string) error {
	switch technology {
	case "", adapters.TechIllumina, adapters.TechNanopore, adapters.TechAll:
		return nil
	}
	return fmt.Errorf("invalid technology %q: expected illumina, nanopore or all", technology)
}

func loadAdapters(path, technology string) ([]adapters.Adapter, error) {
	if path != "" {
		return adapters.FromFile(path, technology)
	}
	return adapters.Builtin(technology)
}

// openInput opens path, or stdin for "" and "-". size is the file size in
// bytes, or 0 when unknown.
func openInput(path string) (io.Reader, int64, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, 0, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, 0, nil, fmt.Errorf("cannot open input: %w", err)
	}
	var size int64
	if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
		size = info.Size()
	}
	return f, size, func() { _ = f.Close() }, nil
}

func showProgress(forced bool, size int64) bool {
	if size <= 0 {
		return false
	}
	return forced || isatty.IsTerminal(os.Stderr.Fd())
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

func defaultJSONPath(path string) string {
	if path == "" || path == "-" {
		return "seqvet.json"
	}
	return filepath.Base(path) + ".json"
}

func writeJSONFile(path string, doc *report.Document) error {
	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return fmt.Errorf("cannot create report: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	if err := report.WriteJSON(bw, doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func reportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <report.json>",
		Short: "Render a saved JSON report as a terminal summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0]) //nolint:gosec // CLI tool needs to open user-specified files
			if err != nil {
				return fmt.Errorf("cannot open report: %w", err)
			}
			defer f.Close() //nolint:errcheck // read-only file

			doc, err := report.Load(bufio.NewReader(f))
			if err != nil {
				return err
			}
			return report.WriteText(os.Stdout, doc)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("seqvet version %s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
