package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hmori/odkit/pkg/detectors"
	"github.com/hmori/odkit/pkg/detectors/gaussian"
	"github.com/hmori/odkit/pkg/detectors/gmm"
	"github.com/hmori/odkit/pkg/detectors/iforest"
	"github.com/hmori/odkit/pkg/detectors/pca"
	"github.com/hmori/odkit/pkg/detectors/vmf"
	"github.com/hmori/odkit/pkg/io"
	"github.com/hmori/odkit/pkg/io/csv"
	"github.com/hmori/odkit/pkg/io/jsonl"
	"github.com/hmori/odkit/pkg/io/pcap"
)

type detectOptions struct {
	input      string
	output     string
	algorithm  string
	fpr        float64
	components int
	seed       int64
	maxIter    int
	noHeader   bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "odkit",
		Short:         "Unsupervised outlier detection on tabular data",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newDetectCmd())
	return root
}

func newDetectCmd() *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Fit a detector on a dataset and classify its samples",
		Long: `Fit a detector on the input dataset, calibrate the threshold at the
requested false-positive rate, and write one JSON result per sample.

Input may be a CSV file (optionally gzip-compressed) or a packet capture
(.pcap), from which per-packet features are extracted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input file (.csv, .csv.gz or .pcap)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file for JSON-lines results (default stdout)")
	cmd.Flags().StringVarP(&opts.algorithm, "algorithm", "a", "gaussian", "detector: gaussian, gmm, vmf, pca or iforest")
	cmd.Flags().Float64Var(&opts.fpr, "fpr", 0.01, "target training false-positive rate")
	cmd.Flags().IntVarP(&opts.components, "components", "k", 0, "mixture components or retained principal directions")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "random seed for mixture initialization")
	cmd.Flags().IntVar(&opts.maxIter, "max-iter", 100, "EM iteration cap for mixture detectors")
	cmd.Flags().BoolVar(&opts.noHeader, "no-header", false, "treat the first CSV row as data, not a header")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runDetect(opts *detectOptions) error {
	logger := newLogger(opts.verbose)

	data, err := loadInput(opts)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.input, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s contains no samples", opts.input)
	}
	logger.Info("loaded dataset",
		"path", opts.input, "samples", len(data), "features", len(data[0]))

	det, err := buildDetector(opts)
	if err != nil {
		return err
	}

	if err := det.Fit(data); err != nil {
		return fmt.Errorf("fit %s: %w", opts.algorithm, err)
	}
	logger.Info("fitted detector",
		"algorithm", opts.algorithm, "threshold", det.Threshold())

	scores, err := det.AnomalyScore(data)
	if err != nil {
		return err
	}
	labels := detectors.ClassifyScores(scores, det.Threshold())

	writer, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer writer.Close()

	results := make([]io.Result, len(data))
	outliers := 0
	for i := range data {
		results[i] = io.Result{
			Index:    i,
			Score:    scores[i],
			Label:    labels[i],
			Features: data[i],
		}
		if labels[i] == detectors.Outlier {
			outliers++
		}
	}
	if err := writer.WriteAll(results); err != nil {
		return err
	}

	logger.Info("detection complete",
		"outliers", outliers, "samples", len(data),
		"fraction", float64(outliers)/float64(len(data)))
	return nil
}

func buildDetector(opts *detectOptions) (detectors.Detector, error) {
	switch strings.ToLower(opts.algorithm) {
	case "gaussian":
		return gaussian.New(gaussian.WithFPR(opts.fpr))
	case "gmm":
		k := opts.components
		if k == 0 {
			k = 1
		}
		return gmm.New(
			gmm.WithComponents(k),
			gmm.WithFPR(opts.fpr),
			gmm.WithSeed(opts.seed),
			gmm.WithMaxIter(opts.maxIter),
		)
	case "vmf":
		k := opts.components
		if k == 0 {
			k = 1
		}
		return vmf.New(
			vmf.WithComponents(k),
			vmf.WithFPR(opts.fpr),
			vmf.WithSeed(opts.seed),
			vmf.WithMaxIter(opts.maxIter),
		)
	case "pca":
		detOpts := []pca.Option{pca.WithFPR(opts.fpr)}
		if opts.components > 0 {
			detOpts = append(detOpts, pca.WithComponents(opts.components))
		}
		return pca.New(detOpts...)
	case "iforest":
		return iforest.New(iforest.WithFPR(opts.fpr), iforest.WithSeed(opts.seed))
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q",
			detectors.ErrInvalidParameter, opts.algorithm)
	}
}

func loadInput(opts *detectOptions) ([][]float64, error) {
	var reader io.Reader
	var err error

	if strings.HasSuffix(opts.input, ".pcap") || strings.HasSuffix(opts.input, ".pcapng") {
		reader, err = pcap.NewFileReader(opts.input)
	} else {
		reader, err = csv.NewReader(opts.input, csv.WithHeader(!opts.noHeader))
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return reader.Read()
}

func openOutput(path string) (io.Writer, error) {
	if path == "" {
		return jsonl.NewWriter(os.Stdout), nil
	}
	return jsonl.NewFileWriter(path)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
