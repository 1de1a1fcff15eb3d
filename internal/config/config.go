package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dfryer1193/mdblog/blog/generation"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MDBLOG_"

// Config is the full process configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Database   DatabaseConfig   `yaml:"database"`
	Watch      WatchConfig      `yaml:"watch"`
	Scan       ScanConfig       `yaml:"scan"`
	Generation GenerationConfig `yaml:"generation"`
	Publishing PublishingConfig `yaml:"publishing"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

type PathsConfig struct {
	MarkdownRoot string `yaml:"markdown_root"`
	// StorageRoot holds the markdown/ and html/ blob areas.
	StorageRoot string `yaml:"storage_root"`
	Extension   string `yaml:"extension"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WatchConfig struct {
	QuietWindow  time.Duration `yaml:"quiet_window"`
	RenameWindow time.Duration `yaml:"rename_window"`
}

type ScanConfig struct {
	ItemDelay time.Duration `yaml:"item_delay"`
	// OnStartup is a pointer so an explicit false in the file survives defaults.
	OnStartup *bool `yaml:"on_startup"`
}

type GenerationConfig struct {
	Provider             string        `yaml:"provider"`
	BaseURL              string        `yaml:"base_url"`
	APIKey               string        `yaml:"api_key"`
	Model                string        `yaml:"model"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxAttempts          int           `yaml:"max_attempts"`
	ValidationMode       string        `yaml:"validation_mode"`
	Preference           string        `yaml:"preference"`
	RecommendedResources []string      `yaml:"recommended_resources"`
	AllowedScriptOrigins []string      `yaml:"allowed_script_origins"`
}

type PublishingConfig struct {
	AutoPublish   bool   `yaml:"auto_publish"`
	DefaultAuthor string `yaml:"default_author"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// Load builds the configuration. Precedence: the YAML file at path, when it
// exists, then defaults for anything left unset, then MDBLOG_* environment
// overrides. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No config file, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Paths.MarkdownRoot, "./posts")
	setDefault(&cfg.Paths.StorageRoot, "./storage")
	setDefault(&cfg.Paths.Extension, ".md")
	setDefault(&cfg.Database.Path, "./mdblog.db")
	setDefault(&cfg.Watch.QuietWindow, 5*time.Second)
	setDefault(&cfg.Watch.RenameWindow, time.Second)
	setDefault(&cfg.Scan.ItemDelay, 500*time.Millisecond)
	if cfg.Scan.OnStartup == nil {
		onStartup := true
		cfg.Scan.OnStartup = &onStartup
	}
	setDefault(&cfg.Generation.Provider, ProviderOpenAI)
	setDefault(&cfg.Generation.Timeout, generation.DefaultTimeout)
	setDefault(&cfg.Generation.MaxAttempts, generation.DefaultMaxAttempts)
	setDefault(&cfg.Generation.ValidationMode, string(generation.ModeWarning))
	setDefault(&cfg.HTTP.Addr, ":8080")
	setDefault(&cfg.Log.Level, "info")
	setDefault(&cfg.Log.Format, "json")
	setDefault(&cfg.Log.MaxSizeMB, 100)
	setDefault(&cfg.Log.MaxBackups, 3)
	setDefault(&cfg.Log.MaxAgeDays, 28)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Paths.MarkdownRoot, "MARKDOWN_ROOT")
	envString(&cfg.Paths.StorageRoot, "STORAGE_ROOT")
	envString(&cfg.Paths.Extension, "EXTENSION")
	envString(&cfg.Database.Path, "DATABASE_PATH")
	envDuration(&cfg.Watch.QuietWindow, "QUIET_WINDOW")
	envDuration(&cfg.Watch.RenameWindow, "RENAME_WINDOW")
	envDuration(&cfg.Scan.ItemDelay, "SCAN_ITEM_DELAY")
	if raw, ok := lookup("SCAN_ON_STARTUP"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Scan.OnStartup = &v
		} else {
			log.Warn().Str("var", envPrefix+"SCAN_ON_STARTUP").Str("value", raw).Msg("Ignoring invalid boolean")
		}
	}
	envString(&cfg.Generation.Provider, "GENERATION_PROVIDER")
	envString(&cfg.Generation.BaseURL, "GENERATION_BASE_URL")
	envString(&cfg.Generation.APIKey, "GENERATION_API_KEY")
	envString(&cfg.Generation.Model, "GENERATION_MODEL")
	envDuration(&cfg.Generation.Timeout, "GENERATION_TIMEOUT")
	envInt(&cfg.Generation.MaxAttempts, "GENERATION_MAX_ATTEMPTS")
	envString(&cfg.Generation.ValidationMode, "VALIDATION_MODE")
	envString(&cfg.Generation.Preference, "GENERATION_PREFERENCE")
	envList(&cfg.Generation.RecommendedResources, "RECOMMENDED_RESOURCES")
	envList(&cfg.Generation.AllowedScriptOrigins, "ALLOWED_SCRIPT_ORIGINS")
	envBool(&cfg.Publishing.AutoPublish, "AUTO_PUBLISH")
	envString(&cfg.Publishing.DefaultAuthor, "DEFAULT_AUTHOR")
	envString(&cfg.HTTP.Addr, "HTTP_ADDR")
	envString(&cfg.Log.Level, "LOG_LEVEL")
	envString(&cfg.Log.Format, "LOG_FORMAT")
	envString(&cfg.Log.Path, "LOG_PATH")
	envInt(&cfg.Log.MaxSizeMB, "LOG_MAX_SIZE_MB")
	envInt(&cfg.Log.MaxBackups, "LOG_MAX_BACKUPS")
	envInt(&cfg.Log.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	envBool(&cfg.Log.Compress, "LOG_COMPRESS")
}

func lookup(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	return raw, raw != ""
}

func envString(field *string, name string) {
	if raw, ok := lookup(name); ok {
		*field = raw
	}
}

func envDuration(field *time.Duration, name string) {
	raw, ok := lookup(name)
	if !ok {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("var", envPrefix+name).Str("value", raw).Msg("Ignoring invalid duration")
		return
	}
	*field = v
}

func envInt(field *int, name string) {
	raw, ok := lookup(name)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("var", envPrefix+name).Str("value", raw).Msg("Ignoring invalid integer")
		return
	}
	*field = v
}

func envBool(field *bool, name string) {
	raw, ok := lookup(name)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("var", envPrefix+name).Str("value", raw).Msg("Ignoring invalid boolean")
		return
	}
	*field = v
}

// envList splits a comma separated variable.
func envList(field *[]string, name string) {
	raw, ok := lookup(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*field = items
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.Paths.Extension, ".") {
		errs = append(errs, fmt.Errorf("paths.extension %q must start with a dot", c.Paths.Extension))
	}
	if c.Watch.QuietWindow < 0 || c.Watch.RenameWindow < 0 || c.Scan.ItemDelay < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, errors.New("generation.timeout must be positive"))
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, errors.New("generation.max_attempts must be at least 1"))
	}
	if _, err := generation.ParseValidationMode(c.Generation.ValidationMode); err != nil {
		errs = append(errs, fmt.Errorf("generation.validation_mode: %w", err))
	}
	switch c.Generation.Provider {
	case ProviderLocal:
	case ProviderOpenAI:
		if c.Generation.APIKey == "" && c.Generation.BaseURL == "" {
			errs = append(errs, errors.New("generation.api_key or generation.base_url is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown generation.provider %q", c.Generation.Provider))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ScanOnStartup reports whether a full scan runs when the server starts.
func (c *Config) ScanOnStartup() bool {
	return c.Scan.OnStartup == nil || *c.Scan.OnStartup
}
