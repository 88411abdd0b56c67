// Package bench provides benchmarking primitives for the bytebpe bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/go-bytebpe/internal/tokenizer"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and volume of a single pass over the corpus.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run, before the word cache is warm
	Duration time.Duration
	Bytes    int
	Tokens   int
	MBps     float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// ---------------------------------------------------------------------------
// Throughput helpers
// ---------------------------------------------------------------------------

// CalcMBps returns input megabytes (1e6 bytes) encoded per second.
// Returns 0 if d is zero to avoid division by zero.
func CalcMBps(bytes int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / 1e6 / d.Seconds()
}

// MeanMBps averages the per-run throughput.
func MeanMBps(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}
	var total float64
	for _, r := range runs {
		total += r.MBps
	}
	return total / float64(len(runs))
}

// CheckThroughputThreshold returns an error if meanMBps < threshold.
// A threshold of 0 disables the gate.
func CheckThroughputThreshold(meanMBps, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanMBps < threshold {
		return fmt.Errorf("mean throughput %.3f MB/s is below threshold %.3f MB/s", meanMBps, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Encoder is the part of a tokenizer the runner drives.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([]*tokenizer.Encoding, error)
}

// Run encodes corpus runs times and records each pass.
func Run(ctx context.Context, enc Encoder, corpus []string, runs int) ([]RunResult, error) {
	if runs < 1 {
		return nil, errors.New("runs must be at least 1")
	}
	if len(corpus) == 0 {
		return nil, errors.New("corpus is empty")
	}

	size := 0
	for _, s := range corpus {
		size += len(s)
	}

	results := make([]RunResult, 0, runs)
	for i := range runs {
		start := time.Now()
		encs, err := enc.EncodeBatch(ctx, corpus)
		elapsed := time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}

		tokens := 0
		for _, e := range encs {
			tokens += len(e.Tokens)
		}
		results = append(results, RunResult{
			Index:    i,
			Cold:     i == 0,
			Duration: elapsed,
			Bytes:    size,
			Tokens:   tokens,
			MBps:     CalcMBps(size, elapsed),
		})
	}

	return results, nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %8s  %8s\n", "Run", "Cold", "MS", "Bytes", "Tokens", "MB/s")
	fmt.Fprintln(sb, strings.Repeat("-", 56))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10d  %8d  %8.3f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Microseconds())/1000,
			r.Bytes,
			r.Tokens,
			r.MBps,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 56))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", float64(stats.Min.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean)\n", "", "", float64(stats.Mean.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", float64(stats.Max.Microseconds())/1000)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	Bytes      int     `json:"bytes"`
	Tokens     int     `json:"tokens"`
	MBps       float64 `json:"mb_per_sec"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:  float64(stats.Min.Microseconds()) / 1000,
			MeanMS: float64(stats.Mean.Microseconds()) / 1000,
			MaxMS:  float64(stats.Max.Microseconds()) / 1000,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: float64(r.Duration.Microseconds()) / 1000,
			Bytes:      r.Bytes,
			Tokens:     r.Tokens,
			MBps:       r.MBps,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
