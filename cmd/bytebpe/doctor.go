package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-bytebpe/internal/doctor"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

func newDoctorCmd() *cobra.Command {
	var samples []string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configured artifact and corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			res := doctor.Run(doctor.Config{
				ArtifactPath: cfg.Paths.ModelPath,
				Load: func(path string) (*tokenizer.Tokenizer, error) {
					return tokenizer.LoadFile(path, cfg.ArtifactLoadOptions())
				},
				Samples:    samples,
				CorpusPath: cfg.Paths.CorpusPath,
			}, out)

			if err := cfg.Validate(); err != nil {
				res.AddFailure(fmt.Sprintf("config: %v", err))
				_, _ = fmt.Fprintf(out, "%s config: %v\n", doctor.FailMark, err)
			} else {
				_, _ = fmt.Fprintf(out, "%s config: valid\n", doctor.PassMark)
			}

			if res.Failed() {
				return fmt.Errorf("doctor found %d problem(s)", len(res.Failures()))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&samples, "sample", doctor.DefaultSamples(), "Normalized text that must round-trip (repeatable)")

	return cmd
}
