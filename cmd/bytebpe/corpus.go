package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxLineBytes = 16 << 20

// readCorpus reads one sample per non-empty line, or a JSON array of
// strings when asJSON is set. path "-" reads from stdin.
func readCorpus(path string, stdin io.Reader, asJSON bool) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open corpus: %w", err)
		}
		defer f.Close()
		r = f
	}

	if asJSON {
		var samples []string
		if err := json.NewDecoder(r).Decode(&samples); err != nil {
			return nil, fmt.Errorf("decode corpus JSON %q: %w", path, err)
		}
		return samples, nil
	}

	var samples []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		samples = append(samples, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read corpus %q: %w", path, err)
	}

	return samples, nil
}
