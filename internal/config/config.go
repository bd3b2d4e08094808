// Package config loads songlake configuration from an INI credentials file,
// a .env file, SONGLAKE_* environment variables and command-line flags, in
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"songlake/internal/engine"
	"songlake/internal/sink"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SONGLAKE"

// Section of the credentials file holding object store settings.
const awsSection = "AWS"

var (
	// ErrMissingCredentials is returned when output is an object store URL but
	// no access key or secret is configured.
	ErrMissingCredentials = errors.New("object store output requires AWS key and secret")
	// ErrInvalidConfig wraps any other validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// AWSConfig holds object store credentials and endpoint settings.
type AWSConfig struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	UseSSL   bool
}

// Config is the resolved configuration for one invocation.
type Config struct {
	InputRoot   string
	OutputRoot  string
	SongGlob    string
	LogGlob     string
	StrictInput bool

	Engine engine.Config
	AWS    AWSConfig

	WriteRetries int

	HistoryPath      string
	HistoryRetention time.Duration

	PushgatewayURL string
	OTLPEndpoint   string

	LogLevel  string
	LogFormat string

	ConfigFile string
}

// Credentials returns the sink credentials for the configured object store.
func (c Config) Credentials() sink.Credentials {
	return sink.Credentials{
		AccessKeyID:     c.AWS.KeyID,
		SecretAccessKey: c.AWS.Secret,
		Endpoint:        c.AWS.Endpoint,
		Region:          c.AWS.Region,
		UseSSL:          c.AWS.UseSSL,
	}
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	if c.OutputRoot == "" {
		return fmt.Errorf("%w: output must not be empty", ErrInvalidConfig)
	}
	if sink.IsObjectStoreURL(c.OutputRoot) && (c.AWS.KeyID == "" || c.AWS.Secret == "") {
		return ErrMissingCredentials
	}
	if c.WriteRetries < 1 {
		return fmt.Errorf("%w: write-retries must be at least 1, got %d", ErrInvalidConfig, c.WriteRetries)
	}
	if c.Engine.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative", ErrInvalidConfig)
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("%w: history-retention must not be negative", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log-format must be json or console, got %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// NewFlagSet returns a flag set with every configuration flag registered.
// Callers may add subcommand flags before passing it to Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("input", "data", "input root holding song_data/ and log-data/")
	fs.String("output", "output", "output directory or s3://bucket/prefix")
	fs.String("config", "dl.cfg", "INI credentials file")
	fs.String("song-glob", "", "song file glob relative to the input root")
	fs.String("log-glob", "", "event file glob relative to the input root")
	fs.Bool("strict-input", false, "fail when an input glob matches no files")
	fs.String("db-path", "", "DuckDB database file (in-memory when empty)")
	fs.Int("threads", 0, "DuckDB worker threads (0 lets DuckDB decide)")
	fs.String("memory-limit", "", "DuckDB memory limit, e.g. 4GB")
	fs.String("aws-endpoint", "", "S3-compatible endpoint host")
	fs.String("aws-region", "", "object store region")
	fs.Int("write-retries", 3, "object store publish attempts per table")
	fs.String("history-path", "songlake_history.db", "run history database (disabled when empty)")
	fs.Duration("history-retention", 720*time.Hour, "prune runs older than this (0 keeps everything)")
	fs.String("pushgateway-url", "", "Prometheus Pushgateway URL for run metrics")
	fs.String("otlp-endpoint", "", "OTLP/HTTP endpoint for the run report")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "json", "log encoding: json or console")
	return fs
}

// Load parses args into fs and resolves the configuration.
func Load(fs *pflag.FlagSet, args []string) (Config, error) {
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}
	// The standard AWS variables are honored alongside the prefixed ones.
	if err := v.BindEnv("aws-key", EnvPrefix+"_AWS_KEY", "AWS_ACCESS_KEY_ID"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("aws-secret", EnvPrefix+"_AWS_SECRET", "AWS_SECRET_ACCESS_KEY"); err != nil {
		return Config{}, err
	}
	v.SetDefault("aws-use-ssl", true)

	path := v.GetString("config")
	file, err := readCredentialsFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := v.MergeConfigMap(file); err != nil {
		return Config{}, fmt.Errorf("merging %s: %w", path, err)
	}

	cfg := Config{
		InputRoot:   v.GetString("input"),
		OutputRoot:  v.GetString("output"),
		SongGlob:    v.GetString("song-glob"),
		LogGlob:     v.GetString("log-glob"),
		StrictInput: v.GetBool("strict-input"),
		Engine: engine.Config{
			DBPath:      v.GetString("db-path"),
			Threads:     v.GetInt("threads"),
			MemoryLimit: v.GetString("memory-limit"),
		},
		AWS: AWSConfig{
			KeyID:    v.GetString("aws-key"),
			Secret:   v.GetString("aws-secret"),
			Endpoint: v.GetString("aws-endpoint"),
			Region:   v.GetString("aws-region"),
			UseSSL:   v.GetBool("aws-use-ssl"),
		},
		WriteRetries:     v.GetInt("write-retries"),
		HistoryPath:      v.GetString("history-path"),
		HistoryRetention: v.GetDuration("history-retention"),
		PushgatewayURL:   v.GetString("pushgateway-url"),
		OTLPEndpoint:     v.GetString("otlp-endpoint"),
		LogLevel:         strings.ToLower(v.GetString("log-level")),
		LogFormat:        strings.ToLower(v.GetString("log-format")),
		ConfigFile:       path,
	}
	return cfg, cfg.Validate()
}

// readCredentialsFile returns the AWS section of the INI file at path as
// config keys. A missing file yields no keys.
func readCredentialsFile(path string) (map[string]any, error) {
	out := map[string]any{}
	if path == "" {
		return out, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return out, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sec, err := f.GetSection(awsSection)
	if err != nil {
		return out, nil
	}

	keys := map[string]string{
		"KEY":      "aws-key",
		"SECRET":   "aws-secret",
		"ENDPOINT": "aws-endpoint",
		"REGION":   "aws-region",
	}
	for iniKey, cfgKey := range keys {
		if sec.HasKey(iniKey) {
			out[cfgKey] = sec.Key(iniKey).String()
		}
	}
	if sec.HasKey("USE_SSL") {
		useSSL, err := sec.Key("USE_SSL").Bool()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: USE_SSL: %v", ErrInvalidConfig, path, err)
		}
		out["aws-use-ssl"] = useSSL
	}
	return out, nil
}
