package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-bytebpe/internal/tokenizer"
)

func newTrainCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "train [corpus]",
		Short: "Learn a vocabulary and merges from a corpus and write the artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
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

			topts, err := cfg.TrainerOptions()
			if err != nil {
				return err
			}
			topts.Logger = slog.Default()

			start := time.Now()
			tok, res, err := tokenizer.Train(cmd.Context(), corpus, cfg.TokenizerOptions(), topts)
			if err != nil {
				return err
			}
			if err := tok.SaveFile(cfg.Paths.ModelPath); err != nil {
				return err
			}

			slog.Info("training complete",
				slog.Int("samples", len(corpus)),
				slog.Int("vocab_size", res.Vocab.Size()),
				slog.Int("merges", len(res.Merges)),
				slog.String("stop", string(res.Stop)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("artifact", cfg.Paths.ModelPath),
			)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", res, cfg.Paths.ModelPath)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Corpus is a JSON array of strings instead of one sample per line")

	return cmd
}
