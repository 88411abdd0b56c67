package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths         PathsConfig         `mapstructure:"paths"`
	Trainer       TrainerConfig       `mapstructure:"trainer"`
	Normalizer    NormalizerConfig    `mapstructure:"normalizer"`
	PreTokenizer  PreTokenizerConfig  `mapstructure:"pre_tokenizer"`
	Decoder       DecoderConfig       `mapstructure:"decoder"`
	PostProcessor PostProcessorConfig `mapstructure:"post_processor"`
	Encoder       EncoderConfig       `mapstructure:"encoder"`
	Server        ServerConfig        `mapstructure:"server"`
	LogLevel      string              `mapstructure:"log_level"`
}

type PathsConfig struct {
	CorpusPath string `mapstructure:"corpus_path"`
	ModelPath  string `mapstructure:"model_path"`
}

type TrainerConfig struct {
	VocabSize          int      `mapstructure:"vocab_size"`
	MinFrequency       int      `mapstructure:"min_frequency"`
	SpecialTokens      []string `mapstructure:"special_tokens"`
	SplittableSpecials []string `mapstructure:"splittable_specials"`
	MaxTokenLength     int      `mapstructure:"max_token_length"`
	InitialAlphabet    string   `mapstructure:"initial_alphabet"`
	Workers            int      `mapstructure:"workers"`
}

type NormalizerConfig struct {
	Strip string `mapstructure:"strip"`
	NFC   bool   `mapstructure:"nfc"`
}

type PreTokenizerConfig struct {
	Pattern        string `mapstructure:"pattern"`
	AddPrefixSpace bool   `mapstructure:"add_prefix_space"`
}

type DecoderConfig struct {
	Policy      string `mapstructure:"policy"`
	SkipSpecial bool   `mapstructure:"skip_special"`
}

type PostProcessorConfig struct {
	TrimOffsets bool   `mapstructure:"trim_offsets"`
	Begin       string `mapstructure:"begin"`
	End         string `mapstructure:"end"`
}

type EncoderConfig struct {
	CacheSize int `mapstructure:"cache_size"`
	Workers   int `mapstructure:"workers"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CorpusPath: "",
			ModelPath:  "tokenizer.json",
		},
		Trainer: TrainerConfig{
			VocabSize:       30000,
			MinFrequency:    0,
			SpecialTokens:   []string{"<unk>", "<mask>", "<cls>", "<sep>"},
			MaxTokenLength:  0,
			InitialAlphabet: "full",
			Workers:         1,
		},
		Normalizer: NormalizerConfig{
			Strip: "both",
			NFC:   true,
		},
		PreTokenizer: PreTokenizerConfig{
			Pattern: "gpt2",
		},
		Decoder: DecoderConfig{
			Policy: "strict",
		},
		Encoder: EncoderConfig{
			CacheSize: 10000,
			Workers:   0,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         4,
			MaxTextBytes:    1 << 20,
			RequestTimeout:  30,
			ShutdownTimeout: 30,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each flag to the config key it sets.
var flagKeys = []struct{ flag, key string }{
	{"paths-corpus-path", "paths.corpus_path"},
	{"paths-model-path", "paths.model_path"},
	{"vocab-size", "trainer.vocab_size"},
	{"min-frequency", "trainer.min_frequency"},
	{"special-tokens", "trainer.special_tokens"},
	{"splittable-specials", "trainer.splittable_specials"},
	{"max-token-length", "trainer.max_token_length"},
	{"initial-alphabet", "trainer.initial_alphabet"},
	{"train-workers", "trainer.workers"},
	{"strip", "normalizer.strip"},
	{"nfc", "normalizer.nfc"},
	{"pattern", "pre_tokenizer.pattern"},
	{"add-prefix-space", "pre_tokenizer.add_prefix_space"},
	{"decode-policy", "decoder.policy"},
	{"skip-special", "decoder.skip_special"},
	{"trim-offsets", "post_processor.trim_offsets"},
	{"boundary-begin", "post_processor.begin"},
	{"boundary-end", "post_processor.end"},
	{"cache-size", "encoder.cache_size"},
	{"encode-workers", "encoder.workers"},
	{"server-listen-addr", "server.listen_addr"},
	{"workers", "server.workers"},
	{"max-text-bytes", "server.max_text_bytes"},
	{"request-timeout", "server.request_timeout"},
	{"shutdown-timeout", "server.shutdown_timeout"},
	{"log-level", "log_level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-corpus-path", defaults.Paths.CorpusPath, "Training corpus file (one sample per line)")
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Tokenizer artifact path (JSON)")
	fs.Int("vocab-size", defaults.Trainer.VocabSize, "Final vocabulary size including special tokens")
	fs.Int("min-frequency", defaults.Trainer.MinFrequency, "Minimum pair frequency for a merge (0 disables)")
	fs.StringSlice("special-tokens", defaults.Trainer.SpecialTokens, "Special tokens reserved at the lowest ids, in order")
	fs.StringSlice("splittable-specials", defaults.Trainer.SplittableSpecials, "Special tokens that are not matched literally in input")
	fs.Int("max-token-length", defaults.Trainer.MaxTokenLength, "Maximum merged symbol length in bytes (0 disables)")
	fs.String("initial-alphabet", defaults.Trainer.InitialAlphabet, "Initial byte alphabet: full|corpus")
	fs.Int("train-workers", defaults.Trainer.Workers, "Shards for initial pair counting")
	fs.String("strip", defaults.Normalizer.Strip, "Whitespace strip mode: both|left|right|none")
	fs.Bool("nfc", defaults.Normalizer.NFC, "Apply Unicode NFC composition")
	fs.String("pattern", defaults.PreTokenizer.Pattern, "Pre-tokenizer pattern: gpt2|whitespace|<regexp>")
	fs.Bool("add-prefix-space", defaults.PreTokenizer.AddPrefixSpace, "Prefix the first word with a space")
	fs.String("decode-policy", defaults.Decoder.Policy, "Invalid UTF-8 handling on decode: strict|replace")
	fs.Bool("skip-special", defaults.Decoder.SkipSpecial, "Omit special tokens when decoding")
	fs.Bool("trim-offsets", defaults.PostProcessor.TrimOffsets, "Exclude surrounding whitespace from token offsets")
	fs.String("boundary-begin", defaults.PostProcessor.Begin, "Special token prepended to every encoding")
	fs.String("boundary-end", defaults.PostProcessor.End, "Special token appended to every encoding")
	fs.Int("cache-size", defaults.Encoder.CacheSize, "Word encoding cache entries (0 disables)")
	fs.Int("encode-workers", defaults.Encoder.Workers, "Batch encode concurrency (0 uses GOMAXPROCS)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent HTTP requests doing tokenizer work")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Max total text bytes per encode request")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("BYTEBPE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("bytebpe")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.corpus_path", c.Paths.CorpusPath)
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("trainer.vocab_size", c.Trainer.VocabSize)
	v.SetDefault("trainer.min_frequency", c.Trainer.MinFrequency)
	v.SetDefault("trainer.special_tokens", c.Trainer.SpecialTokens)
	v.SetDefault("trainer.splittable_specials", c.Trainer.SplittableSpecials)
	v.SetDefault("trainer.max_token_length", c.Trainer.MaxTokenLength)
	v.SetDefault("trainer.initial_alphabet", c.Trainer.InitialAlphabet)
	v.SetDefault("trainer.workers", c.Trainer.Workers)
	v.SetDefault("normalizer.strip", c.Normalizer.Strip)
	v.SetDefault("normalizer.nfc", c.Normalizer.NFC)
	v.SetDefault("pre_tokenizer.pattern", c.PreTokenizer.Pattern)
	v.SetDefault("pre_tokenizer.add_prefix_space", c.PreTokenizer.AddPrefixSpace)
	v.SetDefault("decoder.policy", c.Decoder.Policy)
	v.SetDefault("decoder.skip_special", c.Decoder.SkipSpecial)
	v.SetDefault("post_processor.trim_offsets", c.PostProcessor.TrimOffsets)
	v.SetDefault("post_processor.begin", c.PostProcessor.Begin)
	v.SetDefault("post_processor.end", c.PostProcessor.End)
	v.SetDefault("encoder.cache_size", c.Encoder.CacheSize)
	v.SetDefault("encoder.workers", c.Encoder.Workers)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds every registered flag to its nested key, so flags set on
// the command line win over env and config file values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", fk.flag, err)
		}
	}

	return nil
}
