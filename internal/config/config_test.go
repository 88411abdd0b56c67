package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"

	"github.com/example/go-bytebpe/internal/bpe"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ModelPath != "tokenizer.json" {
		t.Errorf("ModelPath = %q; want %q", cfg.Paths.ModelPath, "tokenizer.json")
	}

	if cfg.Trainer.VocabSize != 30000 {
		t.Errorf("Trainer.VocabSize = %d; want 30000", cfg.Trainer.VocabSize)
	}

	if cfg.Trainer.MinFrequency != 0 {
		t.Errorf("Trainer.MinFrequency = %d; want 0", cfg.Trainer.MinFrequency)
	}

	wantSpecials := []string{"<unk>", "<mask>", "<cls>", "<sep>"}
	if diff := cmp.Diff(wantSpecials, cfg.Trainer.SpecialTokens); diff != "" {
		t.Errorf("Trainer.SpecialTokens mismatch (-want +got):\n%s", diff)
	}

	if cfg.Normalizer.Strip != "both" || !cfg.Normalizer.NFC {
		t.Errorf("Normalizer = %+v; want strip both with NFC", cfg.Normalizer)
	}

	if cfg.PreTokenizer.Pattern != "gpt2" {
		t.Errorf("PreTokenizer.Pattern = %q; want %q", cfg.PreTokenizer.Pattern, "gpt2")
	}

	if cfg.Decoder.Policy != "strict" {
		t.Errorf("Decoder.Policy = %q; want %q", cfg.Decoder.Policy, "strict")
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v; want nil", err)
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-model-path", "tokenizer.json"},
		{"vocab-size", "30000"},
		{"special-tokens", "[<unk>,<mask>,<cls>,<sep>]"},
		{"strip", "both"},
		{"pattern", "gpt2"},
		{"decode-policy", "strict"},
		{"server-listen-addr", ":8080"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestFlagKeys_AllRegistered(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for _, fk := range flagKeys {
		if fs.Lookup(fk.flag) == nil {
			t.Errorf("flagKeys lists %q but RegisterFlags does not define it", fk.flag)
		}
	}

	n := 0
	fs.VisitAll(func(*pflag.Flag) { n++ })
	if n != len(flagKeys) {
		t.Errorf("RegisterFlags defines %d flags, flagKeys binds %d", n, len(flagKeys))
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if diff := cmp.Diff(defaults, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Load() without overrides differs from defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--vocab-size=500",
		"--special-tokens=<pad>,<eos>",
		"--splittable-specials=<eos>",
		"--decode-policy=replace",
		"--workers=8",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Trainer.VocabSize != 500 {
		t.Errorf("Trainer.VocabSize = %d; want 500", cfg.Trainer.VocabSize)
	}

	if diff := cmp.Diff([]string{"<pad>", "<eos>"}, cfg.Trainer.SpecialTokens); diff != "" {
		t.Errorf("Trainer.SpecialTokens mismatch (-want +got):\n%s", diff)
	}

	if cfg.Decoder.Policy != "replace" {
		t.Errorf("Decoder.Policy = %q; want %q", cfg.Decoder.Policy, "replace")
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	specials, err := cfg.Trainer.SpecialTokensList()
	if err != nil {
		t.Fatalf("SpecialTokensList: %v", err)
	}
	want := []bpe.SpecialToken{{Content: "<pad>", Unsplittable: true}, {Content: "<eos>", Unsplittable: false}}
	if diff := cmp.Diff(want, specials); diff != "" {
		t.Errorf("SpecialTokensList mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BYTEBPE_LOG_LEVEL", "warn")
	t.Setenv("BYTEBPE_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("BYTEBPE_TRAINER_VOCAB_SIZE", "1234")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Trainer.VocabSize != 1234 {
		t.Errorf("Trainer.VocabSize = %d; want 1234", cfg.Trainer.VocabSize)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bytebpe.yaml")

	content := `
log_level: error
trainer:
  vocab_size: 777
  min_frequency: 2
normalizer:
  strip: left
server:
  workers: 16
  listen_addr: ":7777"
`

	err := os.WriteFile(cfgFile, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Trainer.VocabSize != 777 || cfg.Trainer.MinFrequency != 2 {
		t.Errorf("Trainer = %+v; want vocab 777, min frequency 2", cfg.Trainer)
	}

	if cfg.Normalizer.Strip != "left" {
		t.Errorf("Normalizer.Strip = %q; want %q", cfg.Normalizer.Strip, "left")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bytebpe.yaml")
	if err := os.WriteFile(cfgFile, []byte("trainer:\n  vocab_size: 777\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Parse([]string{"--vocab-size=999"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, ConfigFile: cfgFile, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Trainer.VocabSize != 999 {
		t.Errorf("Trainer.VocabSize = %d; want 999 from flag", cfg.Trainer.VocabSize)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	// Write invalid YAML
	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/bytebpe.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestLoad_NilCmd(t *testing.T) {
	cfg, err := Load(LoadOptions{
		Cmd:      nil,
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Trainer.VocabSize != 30000 {
		t.Errorf("Trainer.VocabSize = %d; want default 30000", cfg.Trainer.VocabSize)
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"vocab below specials", func(c *Config) { c.Trainer.VocabSize = 3 }, "vocab_size"},
		{"negative min frequency", func(c *Config) { c.Trainer.MinFrequency = -1 }, "min_frequency"},
		{"duplicate special", func(c *Config) { c.Trainer.SpecialTokens = []string{"<a>", "<a>"} }, "special_tokens"},
		{"unknown splittable", func(c *Config) { c.Trainer.SplittableSpecials = []string{"<x>"} }, "trainer.splittable_specials"},
		{"bad alphabet", func(c *Config) { c.Trainer.InitialAlphabet = "ascii" }, "initial_alphabet"},
		{"bad strip", func(c *Config) { c.Normalizer.Strip = "middle" }, "normalizer.strip"},
		{"bad pattern", func(c *Config) { c.PreTokenizer.Pattern = "(" }, "pre_tokenizer.pattern"},
		{"bad policy", func(c *Config) { c.Decoder.Policy = "ignore" }, "decoder.policy"},
		{"unknown boundary", func(c *Config) { c.PostProcessor.Begin = "<bos>" }, "post_processor.begin"},
		{"negative cache", func(c *Config) { c.Encoder.CacheSize = -1 }, "encoder.cache_size"},
		{"zero max text", func(c *Config) { c.Server.MaxTextBytes = 0 }, "server.max_text_bytes"},
		{"zero timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			var ce *bpe.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v; want *bpe.ConfigError", err)
			}

			if ce.Field != tt.field {
				t.Errorf("ConfigError.Field = %q; want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestTokenizerOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostProcessor.Begin = "<cls>"
	cfg.Encoder.CacheSize = 64

	opts := cfg.TokenizerOptions()

	if opts.Normalizer.Strip != "both" || !opts.Normalizer.NFC {
		t.Errorf("Normalizer = %+v", opts.Normalizer)
	}

	if opts.PreTokenizer.Pattern != "gpt2" {
		t.Errorf("PreTokenizer.Pattern = %q", opts.PreTokenizer.Pattern)
	}

	if opts.Post.Begin != "<cls>" || opts.CacheSize != 64 {
		t.Errorf("Post/CacheSize = %+v/%d", opts.Post, opts.CacheSize)
	}
}
