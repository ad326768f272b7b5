package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config holds everything the daemon needs at runtime.
type Config struct {
	// Server configures the HTTP control API and the optional gRPC health listener.
	Server ServerConfig `yaml:"server"`
	// Log configures level and optional rotated log files.
	Log LogConfig `yaml:"log"`
	// SystemctlPath is the systemctl binary used to stop and restart units.
	SystemctlPath string `yaml:"systemctl_path"`
	// HistoryFile stores the outcome of finished update tasks.
	HistoryFile string `yaml:"history_file"`
	// ProgressInterval is how often progress of running tasks is logged.
	ProgressInterval time.Duration `yaml:"progress_interval"`
	// Download tunes the chunked downloader.
	Download DownloadConfig `yaml:"download"`
	// Targets lists artifacts that can be installed. The first one is the default.
	Targets []Target `yaml:"targets"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HealthAddress   string        `yaml:"health_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level    string   `yaml:"level"`
	Dir      string   `yaml:"dir"`
	MaxSize  ByteSize `yaml:"max_size"`
	MaxFiles uint     `yaml:"max_files"`
}

// DownloadConfig tunes how artifacts are fetched.
type DownloadConfig struct {
	// ChunkSize is the size of a single ranged request.
	ChunkSize ByteSize `yaml:"chunk_size"`
	// Parallelism is the number of chunks fetched at once.
	Parallelism int `yaml:"parallelism"`
	// MaxSpeed caps the download rate in bytes per second; zero means unlimited.
	MaxSpeed ByteSize `yaml:"max_speed"`
	// Timeout bounds a single chunk request.
	Timeout time.Duration `yaml:"timeout"`
	// BreakerFailures is the number of consecutive failed requests that aborts a download.
	BreakerFailures int `yaml:"breaker_failures"`
	// Retry configures backoff between attempts of the same chunk.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// Kind tells how a downloaded artifact is installed.
type Kind string

const (
	// KindArchive artifacts are tarballs unpacked into a directory.
	KindArchive Kind = "archive"
	// KindBinary artifacts replace a single file atomically.
	KindBinary Kind = "binary"
)

// Target is one installable artifact.
type Target struct {
	// Name identifies the target in the API.
	Name string `yaml:"name"`
	// URL is where the artifact is downloaded from.
	URL string `yaml:"url"`
	// Output is the directory an archive is unpacked into, or the file a binary replaces.
	Output string `yaml:"output"`
	// Kind is archive or binary.
	Kind Kind `yaml:"kind"`
	// Format selects decompression; "auto" derives it from the URL.
	Format string `yaml:"format"`
	// Service is the systemd unit stopped before and restarted after the update.
	Service string `yaml:"service,omitempty"`
	// Processes are executable names killed before the update.
	Processes []string `yaml:"processes,omitempty"`
	// Checksum is the hex encoded SHA-512 of a binary artifact.
	Checksum string `yaml:"checksum,omitempty"`
	// CleanOutput removes the output directory contents before unpacking.
	CleanOutput bool `yaml:"clean_output,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "pipe-updater.yaml"

	// DefaultHistoryFilename is the default filename for task history.
	DefaultHistoryFilename = "pipe-updater-history.json"

	// DefaultListenAddress matches the port the updater has always listened on.
	DefaultListenAddress = "0.0.0.0:15100"

	// DefaultSystemctlPath is where systemctl lives on the supported images.
	DefaultSystemctlPath = "/usr/bin/systemctl"

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600

	// MinChunkSize is the smallest accepted chunk size.
	MinChunkSize ByteSize = 64 * humanize.KiByte

	defaultChunkSize        ByteSize = 8 * humanize.MiByte
	defaultParallelism               = 4
	defaultLogMaxSize       ByteSize = 2 * humanize.MiByte
	defaultLogMaxFiles               = 7
	defaultProgressInterval          = time.Second
	defaultReadTimeout               = 10 * time.Second
	defaultWriteTimeout              = 30 * time.Second
	defaultShutdownTimeout           = 10 * time.Second
	defaultChunkTimeout              = 5 * time.Minute
	defaultBreakerFailures           = 10
	defaultMaxAttempts               = 5
	defaultInitialInterval           = 500 * time.Millisecond
	defaultMaxInterval               = 30 * time.Second
	defaultMultiplier                = 2.0
)

// Formats accepted in Target.Format.
var Formats = []string{"auto", "raw", "tar", "tar.gz", "tar.lz4", "tar.zst", "tar.bz2"}

var (
	errConfigIsNotSet      = errors.New("configuration is not set")
	errInvalidAddress      = errors.New("invalid listen address")
	errTargetNameRequired  = errors.New("target name must be provided")
	errDuplicateTarget     = errors.New("duplicate target name")
	errInvalidTargetURL    = errors.New("target url must be an absolute http(s) url")
	errOutputRequired      = errors.New("target output must be provided")
	errUnknownKind         = errors.New("unknown target kind")
	errUnknownFormat       = errors.New("unknown target format")
	errChecksumFormat      = errors.New("checksum must be a hex encoded sha512 digest")
	errBinaryFormat        = errors.New("binary targets must use the auto or raw format")
	errInvalidParallelism  = errors.New("download parallelism must be at least 1")
	errChunkSizeTooSmall   = errors.New("download chunk size is too small")
	errInvalidRetryAttempt = errors.New("retry max attempts must be at least 1")

	// ErrTargetNotFound is returned by Target for unknown names.
	ErrTargetNotFound = errors.New("target not found")
)

// Default returns a configuration with every optional value filled in and no targets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultListenAddress,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Log: LogConfig{
			Level:    "info",
			MaxSize:  defaultLogMaxSize,
			MaxFiles: defaultLogMaxFiles,
		},
		SystemctlPath:    DefaultSystemctlPath,
		HistoryFile:      DefaultHistoryFilename,
		ProgressInterval: defaultProgressInterval,
		Download: DownloadConfig{
			ChunkSize:       defaultChunkSize,
			Parallelism:     defaultParallelism,
			Timeout:         defaultChunkTimeout,
			BreakerFailures: defaultBreakerFailures,
			Retry: RetryConfig{
				MaxAttempts:     defaultMaxAttempts,
				InitialInterval: defaultInitialInterval,
				MaxInterval:     defaultMaxInterval,
				Multiplier:      defaultMultiplier,
			},
		},
	}
}

// DefaultTarget is the snapshot target used when no configuration file exists.
func DefaultTarget() Target {
	return Target{
		Name:    "lighthouse",
		URL:     "http://mumbai-main.golem.network:14372/test.tar.lz4",
		Output:  "output",
		Kind:    KindArchive,
		Format:  "auto",
		Service: "lighthouse-bn.service",
	}
}

// Target returns the target with the given name. An empty name selects the default target.
func (c *Config) Target(name string) (Target, error) {
	if len(c.Targets) == 0 {
		return Target{}, ErrTargetNotFound
	}

	if name == "" {
		return c.Targets[0], nil
	}

	for _, target := range c.Targets {
		if target.Name == name {
			return target, nil
		}
	}

	return Target{}, fmt.Errorf("%q: %w", name, ErrTargetNotFound)
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills unset values with defaults and checks the result.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		return fmt.Errorf("%w %q: %w", errInvalidAddress, cfg.Server.Address, err)
	}

	if cfg.Server.HealthAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.HealthAddress); err != nil {
			return fmt.Errorf("%w %q: %w", errInvalidAddress, cfg.Server.HealthAddress, err)
		}
	}

	if err := validateDownload(&cfg.Download); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cfg.Targets))

	for i := range cfg.Targets {
		target := &cfg.Targets[i]

		if err := validateTarget(target); err != nil {
			return fmt.Errorf("target #%d: %w", i+1, err)
		}

		if _, ok := seen[target.Name]; ok {
			return fmt.Errorf("%w: %s", errDuplicateTarget, target.Name)
		}

		seen[target.Name] = struct{}{}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Address == "" {
		cfg.Server.Address = def.Server.Address
	}

	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}

	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}

	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = def.Log.MaxSize
	}

	if cfg.Log.MaxFiles == 0 {
		cfg.Log.MaxFiles = def.Log.MaxFiles
	}

	if cfg.SystemctlPath == "" {
		cfg.SystemctlPath = def.SystemctlPath
	}

	if cfg.HistoryFile == "" {
		cfg.HistoryFile = def.HistoryFile
	}

	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}

	d := &cfg.Download
	if d.ChunkSize == 0 {
		d.ChunkSize = def.Download.ChunkSize
	}

	if d.Parallelism == 0 {
		d.Parallelism = def.Download.Parallelism
	}

	if d.Timeout <= 0 {
		d.Timeout = def.Download.Timeout
	}

	if d.BreakerFailures <= 0 {
		d.BreakerFailures = def.Download.BreakerFailures
	}

	if d.Retry.MaxAttempts == 0 {
		d.Retry.MaxAttempts = def.Download.Retry.MaxAttempts
	}

	if d.Retry.InitialInterval <= 0 {
		d.Retry.InitialInterval = def.Download.Retry.InitialInterval
	}

	if d.Retry.MaxInterval <= 0 {
		d.Retry.MaxInterval = def.Download.Retry.MaxInterval
	}

	if d.Retry.Multiplier < 1 {
		d.Retry.Multiplier = def.Download.Retry.Multiplier
	}

	for i := range cfg.Targets {
		if cfg.Targets[i].Kind == "" {
			cfg.Targets[i].Kind = KindArchive
		}

		if cfg.Targets[i].Format == "" {
			cfg.Targets[i].Format = "auto"
		}
	}
}

func validateDownload(d *DownloadConfig) error {
	if d.Parallelism < 1 {
		return errInvalidParallelism
	}

	if d.ChunkSize < MinChunkSize {
		return fmt.Errorf("%w: %s < %s", errChunkSizeTooSmall, d.ChunkSize, MinChunkSize)
	}

	if d.Retry.MaxAttempts < 1 {
		return errInvalidRetryAttempt
	}

	return nil
}

func validateTarget(target *Target) error {
	if strings.TrimSpace(target.Name) == "" {
		return errTargetNameRequired
	}

	parsed, err := url.ParseRequestURI(target.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s: %w", target.Name, errInvalidTargetURL)
	}

	if strings.TrimSpace(target.Output) == "" {
		return fmt.Errorf("%s: %w", target.Name, errOutputRequired)
	}

	switch target.Kind {
	case KindArchive, KindBinary:
	default:
		return fmt.Errorf("%s: %w %q", target.Name, errUnknownKind, target.Kind)
	}

	if !isKnownFormat(target.Format) {
		return fmt.Errorf("%s: %w %q", target.Name, errUnknownFormat, target.Format)
	}

	if target.Kind == KindBinary && target.Format != "auto" && target.Format != "raw" {
		return fmt.Errorf("%s: %w", target.Name, errBinaryFormat)
	}

	if target.Checksum != "" && !isSHA512Hex(target.Checksum) {
		return fmt.Errorf("%s: %w", target.Name, errChecksumFormat)
	}

	return nil
}

func isKnownFormat(format string) bool {
	for _, known := range Formats {
		if format == known {
			return true
		}
	}

	return false
}

func isSHA512Hex(s string) bool {
	const sha512HexLength = 128

	if len(s) != sha512HexLength {
		return false
	}

	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}

	return true
}
