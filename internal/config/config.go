// Package config provides configuration management for the signreel service.
// Configuration is built from defaults, an optional TOML file and environment
// variable overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 5000
	DefaultLogLevel = "info"
	DefaultDataDir  = ".signreel"

	// Environment variable names
	EnvConfig          = "SIGNREEL_CONFIG"
	EnvHost            = "SIGNREEL_HOST"
	EnvPort            = "SIGNREEL_PORT"
	EnvLogLevel        = "SIGNREEL_LOG_LEVEL"
	EnvLogFormat       = "SIGNREEL_LOG_FORMAT"
	EnvDataDir         = "SIGNREEL_DATA_DIR"
	EnvAuthToken       = "SIGNREEL_AUTH_TOKEN"
	EnvDatasetBackend  = "SIGNREEL_DATASET_BACKEND"
	EnvDatasetPath     = "SIGNREEL_DATASET_PATH"
	EnvResolverBackend = "SIGNREEL_RESOLVER_BACKEND"
	EnvResolverTimeout = "SIGNREEL_RESOLVER_TIMEOUT"
	EnvYTDLPPath       = "SIGNREEL_YTDLP_PATH"
	EnvFFmpegPath      = "SIGNREEL_FFMPEG_PATH"
	EnvFFprobePath     = "SIGNREEL_FFPROBE_PATH"
	EnvCleanupDelay    = "SIGNREEL_CLEANUP_DELAY"

	// Filenames inside the data directory
	DBFilename     = "signreel.db"
	LockFilename   = "signreel.lock"
	ConfigFilename = "signreel.toml"

	// Dataset and resolver backends
	DatasetJSON     = "json"
	DatasetSQLite   = "sqlite"
	ResolverYTDLP   = "ytdlp"
	ResolverHTTP    = "http"
	DefaultDataset  = "MS-ASL/MSASL_test.json"
	DefaultFormat   = "best"
	DefaultCodec    = "mpeg4"
	DefaultMaxBytes = 512 * 1024 * 1024 // 512MB

	// Timing defaults
	DefaultResolverTimeout = 2 * time.Minute
	DefaultUnavailableTTL  = 6 * time.Hour
	DefaultCleanupDelay    = 5 * time.Second
	DefaultCleanupPoll     = 500 * time.Millisecond
)

// Duration wraps time.Duration so it can be written as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type Server struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	AuthToken   string   `toml:"auth_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // auto, json, text
}

type Dataset struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type Resolver struct {
	Backend        string   `toml:"backend"`
	Timeout        Duration `toml:"timeout"`
	YTDLPPath      string   `toml:"ytdlp_path"`
	Format         string   `toml:"format"`
	MaxSourceBytes int64    `toml:"max_source_bytes"`
	UnavailableTTL Duration `toml:"unavailable_ttl"`
}

type Media struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
	Codec       string `toml:"codec"`
}

type Cleanup struct {
	Delay        Duration `toml:"delay"`
	PollInterval Duration `toml:"poll_interval"`
}

type Pipeline struct {
	Concurrency int `toml:"concurrency"`
}

// Config is the complete service configuration.
type Config struct {
	DataDir  string   `toml:"data_dir"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`
	Dataset  Dataset  `toml:"dataset"`
	Resolver Resolver `toml:"resolver"`
	Media    Media    `toml:"media"`
	Cleanup  Cleanup  `toml:"cleanup"`
	Pipeline Pipeline `toml:"pipeline"`
}

// Default returns a configuration populated with defaults only.
func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Server: Server{
			Host:        DefaultHost,
			Port:        DefaultPort,
			CORSOrigins: []string{"*"},
		},
		Log: Log{Level: DefaultLogLevel, Format: "auto"},
		Dataset: Dataset{
			Backend: DatasetJSON,
			Path:    DefaultDataset,
		},
		Resolver: Resolver{
			Backend:        ResolverYTDLP,
			Timeout:        Duration{DefaultResolverTimeout},
			YTDLPPath:      "yt-dlp",
			Format:         DefaultFormat,
			MaxSourceBytes: DefaultMaxBytes,
			UnavailableTTL: Duration{DefaultUnavailableTTL},
		},
		Media: Media{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Codec:       DefaultCodec,
		},
		Cleanup: Cleanup{
			Delay:        Duration{DefaultCleanupDelay},
			PollInterval: Duration{DefaultCleanupPoll},
		},
		Pipeline: Pipeline{Concurrency: 1},
	}
}

// Load builds the configuration from defaults, the TOML file at path (or the
// default location when path is empty) and environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = filepath.Join(cfg.DataDir, ConfigFilename)
	}

	if err := cfg.readFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(expandHome(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if h := os.Getenv(EnvHost); h != "" {
		c.Server.Host = h
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.Log.Level = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.Log.Format = lf
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.DataDir = dd
	}
	if tok := os.Getenv(EnvAuthToken); tok != "" {
		c.Server.AuthToken = tok
	}
	if b := os.Getenv(EnvDatasetBackend); b != "" {
		c.Dataset.Backend = b
	}
	if p := os.Getenv(EnvDatasetPath); p != "" {
		c.Dataset.Path = p
	}
	if b := os.Getenv(EnvResolverBackend); b != "" {
		c.Resolver.Backend = b
	}
	if t := os.Getenv(EnvResolverTimeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvResolverTimeout, err)
		}
		c.Resolver.Timeout = Duration{d}
	}
	if p := os.Getenv(EnvYTDLPPath); p != "" {
		c.Resolver.YTDLPPath = p
	}
	if p := os.Getenv(EnvFFmpegPath); p != "" {
		c.Media.FFmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		c.Media.FFprobePath = p
	}
	if d := os.Getenv(EnvCleanupDelay); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvCleanupDelay, err)
		}
		c.Cleanup.Delay = Duration{parsed}
	}
	return nil
}

func (c *Config) normalize() {
	c.DataDir = expandHome(strings.TrimSpace(c.DataDir))
	c.Dataset.Path = expandHome(strings.TrimSpace(c.Dataset.Path))
	c.Dataset.Backend = strings.ToLower(strings.TrimSpace(c.Dataset.Backend))
	c.Resolver.Backend = strings.ToLower(strings.TrimSpace(c.Resolver.Backend))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Pipeline.Concurrency < 1 {
		c.Pipeline.Concurrency = 1
	}
	if c.Cleanup.PollInterval.Duration <= 0 {
		c.Cleanup.PollInterval = Duration{DefaultCleanupPoll}
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: port must be between 1 and 65535", c.Server.Port)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	switch c.Dataset.Backend {
	case DatasetJSON:
		if c.Dataset.Path == "" {
			return errors.New("dataset.path is required for the json backend")
		}
	case DatasetSQLite:
	default:
		return fmt.Errorf("unknown dataset.backend %q (want %s or %s)", c.Dataset.Backend, DatasetJSON, DatasetSQLite)
	}
	switch c.Resolver.Backend {
	case ResolverYTDLP, ResolverHTTP:
	default:
		return fmt.Errorf("unknown resolver.backend %q (want %s or %s)", c.Resolver.Backend, ResolverYTDLP, ResolverHTTP)
	}
	if c.Resolver.Timeout.Duration < 0 {
		return errors.New("resolver.timeout must not be negative")
	}
	if c.Cleanup.Delay.Duration < 0 {
		return errors.New("cleanup.delay must not be negative")
	}
	switch c.Log.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DBPath returns the full path to the SQLite database file
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFilename)
}

// CacheDir returns the cache directory path
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// WorkspaceDir returns the root under which request workspaces are created.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, LockFilename)
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
