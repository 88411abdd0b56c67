package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-bytebpe/internal/bench"
)

func newBenchCmd() *cobra.Command {
	var (
		runs          int
		format        string
		asJSON        bool
		minThroughput float64
	)

	cmd := &cobra.Command{
		Use:   "bench [corpus]",
		Short: "Benchmark batch encode latency and throughput",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			path := cfg.Paths.CorpusPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("a corpus is required (argument, --paths-corpus-path or - for stdin)")
			}
			corpus, err := readCorpus(path, cmd.InOrStdin(), asJSON)
			if err != nil {
				return err
			}

			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			results, err := bench.Run(cmd.Context(), tok, corpus, runs)
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckThroughputThreshold(bench.MeanMBps(results), minThroughput)
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 5, "Number of passes over the corpus")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Corpus is a JSON array of strings instead of one sample per line")
	cmd.Flags().Float64Var(&minThroughput, "min-throughput", 0, "Exit non-zero if mean MB/s falls below this value (0 = disabled)")

	return cmd
}
