package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cartlink/cartlink-go/pkg/connection"
	"github.com/cartlink/cartlink-go/pkg/gateway"
	"github.com/cartlink/cartlink-go/pkg/transport"
)

// Environment overrides.
const (
	EnvChunkSize    = "CARTLINK_CHUNK_SIZE"
	EnvVerifyUpload = "CARTLINK_VERIFY_UPLOAD"
)

const maxChunkSize = 64 * 1024

// Config holds the cartlink configuration. Values come from the defaults,
// then the YAML file, then the environment, then explicitly set flags.
// It implements interactive.ShellConfig.
type Config struct {
	Implementation  string        `yaml:"implementation"`
	Address         string        `yaml:"address"`
	Device          string        `yaml:"device"`
	ChunkSize       int           `yaml:"chunk_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	UploadPerMB     time.Duration `yaml:"upload_timeout_per_mb"`
	VerifyUploads   bool          `yaml:"verify_uploads"`
	ProtocolLog     string        `yaml:"protocol_log"`
	StateFile       string        `yaml:"state_file"`
	LogLevel        string        `yaml:"log_level"`

	// Command-line only.
	ConfigFile  string `yaml:"-"`
	Interactive bool   `yaml:"-"`
	Reset       bool   `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Implementation:  transport.ImplSerial,
		ChunkSize:       transport.DefaultChunkSize,
		DownloadTimeout: gateway.DefaultDownloadTimeout,
		UploadPerMB:     gateway.DefaultUploadTimeoutPerMB,
		VerifyUploads:   true,
		LogLevel:        "info",
	}
}

// DefaultTarget implements interactive.ShellConfig.
func (c *Config) DefaultTarget() (connection.Target, bool) {
	if c.Address == "" && c.Implementation != transport.ImplHub {
		return connection.Target{}, false
	}
	return connection.Target{
		Implementation: c.Implementation,
		Options:        connection.Options{Address: c.Address, Device: c.Device},
	}, true
}

// Timeout implements interactive.ShellConfig.
func (c *Config) Timeout() time.Duration {
	return c.DownloadTimeout
}

// bindFlags registers every flag on fs, writing into c.
func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&c.Implementation, "impl", c.Implementation, "Transport: serial or hub")
	fs.StringVar(&c.Address, "address", "", "Serial port name or hub URL (ws://localhost:64213)")
	fs.StringVar(&c.Device, "device", "", "Device to attach (default: first reported)")
	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "Upload chunk size in bytes")
	fs.DurationVar(&c.DownloadTimeout, "download-timeout", c.DownloadTimeout, "Blocking download timeout")
	fs.DurationVar(&c.UploadPerMB, "upload-timeout-per-mb", c.UploadPerMB, "Blocking upload timeout per MiB (at least 30s)")
	fs.BoolVar(&c.VerifyUploads, "verify-uploads", c.VerifyUploads, "List the target directory after each upload")
	fs.StringVar(&c.ProtocolLog, "protocol-log", "", "Write a protocol capture (.clog) to this file")
	fs.StringVar(&c.StateFile, "state-file", "", "Persist last target and directory cache to this file")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&c.Interactive, "interactive", false, "Start the interactive shell")
	fs.BoolVar(&c.Reset, "reset", false, "Clear persisted state before starting")
}

// overlay copies the flags explicitly set on fs from src into c.
func (c *Config) overlay(fs *flag.FlagSet, src *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "impl":
			c.Implementation = src.Implementation
		case "address":
			c.Address = src.Address
		case "device":
			c.Device = src.Device
		case "chunk-size":
			c.ChunkSize = src.ChunkSize
		case "download-timeout":
			c.DownloadTimeout = src.DownloadTimeout
		case "upload-timeout-per-mb":
			c.UploadPerMB = src.UploadPerMB
		case "verify-uploads":
			c.VerifyUploads = src.VerifyUploads
		case "protocol-log":
			c.ProtocolLog = src.ProtocolLog
		case "state-file":
			c.StateFile = src.StateFile
		case "log-level":
			c.LogLevel = src.LogLevel
		}
	})
	c.ConfigFile = src.ConfigFile
	c.Interactive = src.Interactive
	c.Reset = src.Reset
}

// loadFile merges the YAML file at path into c. Unknown keys are errors.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// applyEnv applies environment overrides.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvChunkSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChunkSize, err)
		}
		c.ChunkSize = n
	}
	if v := getenv(EnvVerifyUpload); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVerifyUpload, err)
		}
		c.VerifyUploads = on
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate(impls []string) error {
	if !slices.Contains(impls, c.Implementation) {
		return fmt.Errorf("unknown implementation %q (use: %v)", c.Implementation, impls)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		return fmt.Errorf("chunk size %d out of range 1..%d", c.ChunkSize, maxChunkSize)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive, got %s", c.DownloadTimeout)
	}
	if c.UploadPerMB <= 0 {
		return fmt.Errorf("upload timeout per MiB must be positive, got %s", c.UploadPerMB)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return l, nil
}

// LoadConfig parses args and merges every configuration source. It
// returns the remaining positional arguments.
func LoadConfig(args []string, getenv func(string) string, impls []string) (Config, []string, error) {
	fs := flag.NewFlagSet("cartlink", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	flags := DefaultConfig()
	flags.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	cfg := DefaultConfig()
	if flags.ConfigFile != "" {
		if err := cfg.loadFile(flags.ConfigFile); err != nil {
			return Config{}, nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, nil, err
	}
	cfg.overlay(fs, &flags)

	if err := cfg.Validate(impls); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}
