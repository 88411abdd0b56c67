package main

import (
	"testing"

	"github.com/example/go-bytebpe/internal/config"
)

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"train", "encode", "decode", "inspect", "bench", "doctor", "serve", "health"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}
	if root.PersistentFlags().Lookup("vocab-size") == nil {
		t.Error("expected config flags to be registered as persistent flags")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(nil, level)
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(_ *testing.T) {
	// Should not panic on invalid level.
	setupLogger(nil, "not-a-level")
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	// Zero-value config has empty Paths.ModelPath → requireConfig returns error.
	activeCfg = config.Config{}

	_, err := requireConfig()
	if err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRequireConfig_SucceedsWhenLoaded(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{
		Paths: config.PathsConfig{ModelPath: "/some/tokenizer.json"},
	}

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Paths.ModelPath != "/some/tokenizer.json" {
		t.Errorf("unexpected ModelPath: %q", got.Paths.ModelPath)
	}
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{"spaces", "1 2 3", []int{1, 2, 3}, false},
		{"commas and newlines", "4,5\n6,\n", []int{4, 5, 6}, false},
		{"empty", "  ", []int{}, false},
		{"not a number", "1 x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIDs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseIDs(%q) = %v; want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIDs(%q): %v", tt.in, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseIDs(%q) = %v; want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("parseIDs(%q) = %v; want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestFormatIDs(t *testing.T) {
	if got := formatIDs([]int{7, 0, 12}); got != "7 0 12" {
		t.Errorf("formatIDs = %q", got)
	}
	if got := formatIDs(nil); got != "" {
		t.Errorf("formatIDs(nil) = %q", got)
	}
}
