package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var (
		asJSON bool
		lines  bool
	)

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode text to token ids",
		Long:  "Encode each argument as a separate input. Without arguments stdin is read as one input, or one input per line with --lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			inputs := args
			if len(inputs) == 0 {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				if lines {
					inputs = strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
				} else {
					inputs = []string{string(raw)}
				}
			}

			encs, err := tok.EncodeBatch(cmd.Context(), inputs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, e := range encs {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}

			for _, e := range encs {
				if _, err := fmt.Fprintln(out, formatIDs(e.IDs())); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print each encoding as a JSON object with tokens and offsets")
	cmd.Flags().BoolVar(&lines, "lines", false, "Treat each stdin line as a separate input")

	return cmd
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}
