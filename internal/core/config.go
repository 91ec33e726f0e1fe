package core

import (
	"errors"
	"fmt"
	"time"
)

// Configuration defaults.
const (
	DefaultPreloadCount        = 3
	DefaultCheckIntervalSecs   = 5
	DefaultMaxRetries          = 5
	DefaultMaxShuffleSongs     = 20
	DefaultRecentCapacity      = 1000
	DefaultFalsePositiveRate   = 0.001
	DefaultRecencyCacheSize    = 100
	DefaultProbeIntervalSecs   = 10
	DefaultProbeTimeoutSecs    = 3
	DefaultServerPort          = 8080
	DefaultServerTimeoutSecs   = 10
	DefaultRequestsPerMinute   = 120
	DefaultLibraryPath         = "./library.db"
	DefaultDownloadRoot        = "./music"
	DefaultLogLevel            = "info"
	DefaultShuffleFetchTimeout = 2 * time.Second
)

type Config struct {
	Download DownloadConfig
	Shuffle  ShuffleConfig
	Network  NetworkConfig
	Library  LibraryConfig
	Server   ServerConfig
	Log      LogConfig
}

type DownloadConfig struct {
	Root              string
	BaseURL           string
	Preload           int
	CheckIntervalSecs int
	MaxRetries        int
	ScanMedia         bool
	RateLimitKBps     int
}

type ShuffleConfig struct {
	MaxSongs          int
	RecentCapacity    int
	FalsePositiveRate float64
}

type NetworkConfig struct {
	ProbeAddr         string // host:port dialled to detect connectivity; empty means always online
	ProbeIntervalSecs int
	ProbeTimeoutSecs  int
}

type LibraryConfig struct {
	Path string
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestsPerMinute int // per client on mutating endpoints; 0 disables the limit
}

type LogConfig struct {
	Level string
}

func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			Root:              DefaultDownloadRoot,
			Preload:           DefaultPreloadCount,
			CheckIntervalSecs: DefaultCheckIntervalSecs,
			MaxRetries:        DefaultMaxRetries,
		},
		Shuffle: ShuffleConfig{
			MaxSongs:          DefaultMaxShuffleSongs,
			RecentCapacity:    DefaultRecentCapacity,
			FalsePositiveRate: DefaultFalsePositiveRate,
		},
		Network: NetworkConfig{
			ProbeIntervalSecs: DefaultProbeIntervalSecs,
			ProbeTimeoutSecs:  DefaultProbeTimeoutSecs,
		},
		Library: LibraryConfig{
			Path: DefaultLibraryPath,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              DefaultServerPort,
			ReadTimeout:       DefaultServerTimeoutSecs * time.Second,
			WriteTimeout:      DefaultServerTimeoutSecs * time.Second,
			RequestsPerMinute: DefaultRequestsPerMinute,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Download.Root == "" {
		return errors.New("download root is required")
	}
	if c.Download.BaseURL == "" {
		return errors.New("download base URL is required")
	}
	if c.Download.Preload <= 0 {
		return fmt.Errorf("preload count must be positive, got %d", c.Download.Preload)
	}
	if c.Download.CheckIntervalSecs <= 0 {
		return fmt.Errorf("check interval must be positive, got %d", c.Download.CheckIntervalSecs)
	}
	if c.Shuffle.MaxSongs <= 0 {
		return fmt.Errorf("shuffle size must be positive, got %d", c.Shuffle.MaxSongs)
	}
	if c.Shuffle.RecentCapacity <= 0 {
		return fmt.Errorf("recent song capacity must be positive, got %d", c.Shuffle.RecentCapacity)
	}
	if c.Shuffle.FalsePositiveRate <= 0 || c.Shuffle.FalsePositiveRate >= 1 {
		return fmt.Errorf("false positive rate must be in (0, 1), got %v", c.Shuffle.FalsePositiveRate)
	}
	return nil
}

// CheckInterval returns the delay between scheduler ticks.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Download.CheckIntervalSecs) * time.Second
}

// PreloadCount implements Settings.
func (c *Config) PreloadCount() int {
	return c.Download.Preload
}

// MaxShuffleSongs implements Settings.
func (c *Config) MaxShuffleSongs() int {
	return c.Shuffle.MaxSongs
}

// ShouldScanMedia implements Settings.
func (c *Config) ShouldScanMedia() bool {
	return c.Download.ScanMedia
}
