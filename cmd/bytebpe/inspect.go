package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/example/go-bytebpe/internal/bpe"
	"github.com/example/go-bytebpe/internal/tokenizer"
)

func newInspectCmd() *cobra.Command {
	var (
		top    int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show vocabulary size, special tokens, stage settings and the first merges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tok.Info())
			}

			printInfo(cmd.OutOrStdout(), tok, top)
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Number of highest-ranked merges to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")

	return cmd
}

func printInfo(w io.Writer, tok *tokenizer.Tokenizer, top int) {
	info := tok.Info()

	fmt.Fprintf(w, "vocab size:     %d\n", info.VocabSize)
	fmt.Fprintf(w, "merges:         %d\n", info.Merges)
	fmt.Fprintf(w, "normalizer:     strip=%s nfc=%t\n", info.Normalizer.Strip, info.Normalizer.NFC)
	fmt.Fprintf(w, "pre-tokenizer:  %s\n", info.PreTokenizer)
	fmt.Fprintf(w, "decoder:        %s\n", info.Decoder)
	fmt.Fprintf(w, "post-processor: trim_offsets=%t begin=%q end=%q\n", info.Post.TrimOffsets, info.Post.Begin, info.Post.End)

	fmt.Fprintln(w, "special tokens:")
	for id, sp := range info.SpecialTokens {
		mode := "unsplittable"
		if !sp.Unsplittable {
			mode = "splittable"
		}
		fmt.Fprintf(w, "  %4d  %-12s %s\n", id, sp.Content, mode)
	}

	merges := tok.Model().Merges()
	if top > len(merges) {
		top = len(merges)
	}
	if top <= 0 {
		return
	}
	fmt.Fprintf(w, "top %d merges:\n", top)
	for _, m := range merges[:top] {
		fmt.Fprintf(w, "  %4d  %q + %q -> %q\n", m.Rank, bpe.Display(m.Left), bpe.Display(m.Right), bpe.Display(m.Result))
	}
}
