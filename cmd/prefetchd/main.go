// Package main provides the prefetchd CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"prefetchd/internal/core"
	"prefetchd/internal/download"
	"prefetchd/internal/fetch"
	"prefetchd/internal/flood"
	httpserver "prefetchd/internal/http"
	"prefetchd/internal/model"
	"prefetchd/internal/playback"
	"prefetchd/internal/probe"
	"prefetchd/internal/shuffle"
	"prefetchd/internal/store"
)

const (
	defaultServerHost = "0.0.0.0"
	envPrefix         = "PREFETCHD"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "prefetchd",
	Short: "prefetchd - media prefetch scheduler",
	Long: `prefetchd keeps a play queue and a background queue of songs and downloads them from a
streaming server ahead of playback, one transfer at a time.`,
	RunE: runPrefetchd,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagSpec describes one configuration flag. The env variable is derived from the name.
type flagSpec struct {
	name  string
	value any
	usage string
}

var flagSections = []struct {
	title string
	flags []flagSpec
}{
	{"Downloads", []flagSpec{
		{"download-root", core.DefaultDownloadRoot, "Directory for downloaded files"},
		{"download-base-url", "", "Streaming server base URL (required)"},
		{"download-preload", core.DefaultPreloadCount, "Number of upcoming songs to download ahead of playback"},
		{"download-check-interval-secs", core.DefaultCheckIntervalSecs, "Delay between scheduler ticks in seconds"},
		{"download-max-retries", core.DefaultMaxRetries, "Failed attempts before a download is given up"},
		{"download-scan-media", false, "Record finished background downloads in the media index"},
		{"download-rate-limit-kbps", 0, "Transfer rate limit in KiB/s (0 is unlimited)"},
	}},
	{"Shuffle play", []flagSpec{
		{"shuffle-max-songs", core.DefaultMaxShuffleSongs, "Queue length kept filled while shuffling"},
		{"shuffle-recent-capacity", core.DefaultRecentCapacity, "Number of recently shuffled songs not repeated"},
		{"shuffle-false-positive-rate", core.DefaultFalsePositiveRate, "Bloom filter false positive rate of the recent songs"},
	}},
	{"Network", []flagSpec{
		{"network-probe-addr", "", "host:port dialled to detect connectivity (empty is always online)"},
		{"network-probe-interval-secs", core.DefaultProbeIntervalSecs, "Connectivity check interval in seconds"},
		{"network-probe-timeout-secs", core.DefaultProbeTimeoutSecs, "Connectivity check timeout in seconds"},
	}},
	{"Library", []flagSpec{
		{"library-path", core.DefaultLibraryPath, "SQLite database path"},
	}},
	{"HTTP server", []flagSpec{
		{"server-host", defaultServerHost, "HTTP server host"},
		{"server-port", core.DefaultServerPort, "HTTP server port"},
		{"server-requests-per-minute", core.DefaultRequestsPerMinute, "Queue changes allowed per client per minute (0 is unlimited)"},
	}},
	{"Logging", []flagSpec{
		{"log-level", core.DefaultLogLevel, "log level (debug, info, warn, error)"},
	}},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	for _, section := range flagSections {
		for _, def := range section.flags {
			switch v := def.value.(type) {
			case string:
				flags.String(def.name, v, def.usage)
			case int:
				flags.Int(def.name, v, def.usage)
			case bool:
				flags.Bool(def.name, v, def.usage)
			case float64:
				flags.Float64(def.name, v, def.usage)
			default:
				panic(fmt.Sprintf("unsupported flag type %T for %s", v, def.name))
			}
		}
	}
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Download.Root = viper.GetString("download-root")
	cfg.Download.BaseURL = viper.GetString("download-base-url")
	cfg.Download.Preload = viper.GetInt("download-preload")
	cfg.Download.CheckIntervalSecs = viper.GetInt("download-check-interval-secs")
	cfg.Download.MaxRetries = viper.GetInt("download-max-retries")
	cfg.Download.ScanMedia = viper.GetBool("download-scan-media")
	cfg.Download.RateLimitKBps = viper.GetInt("download-rate-limit-kbps")

	cfg.Shuffle.MaxSongs = viper.GetInt("shuffle-max-songs")
	cfg.Shuffle.RecentCapacity = viper.GetInt("shuffle-recent-capacity")
	cfg.Shuffle.FalsePositiveRate = viper.GetFloat64("shuffle-false-positive-rate")

	cfg.Network.ProbeAddr = viper.GetString("network-probe-addr")
	cfg.Network.ProbeIntervalSecs = viper.GetInt("network-probe-interval-secs")
	cfg.Network.ProbeTimeoutSecs = viper.GetInt("network-probe-timeout-secs")

	cfg.Library.Path = viper.GetString("library-path")

	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.RequestsPerMinute = viper.GetInt("server-requests-per-minute")

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runPrefetchd(_ *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample()
	}

	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting prefetchd",
		zap.String("download_root", config.Download.Root),
		zap.String("base_url", config.Download.BaseURL),
		zap.Int("preload", config.Download.Preload),
		zap.String("library", config.Library.Path))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	library    *store.Library
	downloader *core.Downloader
	network    *probe.Network
	limiter    *flood.Floodgate
	httpServer *httpserver.Server
}

func initializeServices() (*services, error) {
	library, err := store.Open(config.Library.Path, logger.Named("library"))
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(config.Download.BaseURL, config.Download.RateLimitKBps*1024, logger.Named("fetch"))
	factory := download.NewFactory(fetcher, download.Layout{Root: config.Download.Root},
		config.Download.MaxRetries, logger.Named("download"))
	items := core.ItemFactoryFunc(func(song model.Song, save bool) core.Item {
		return factory.New(song, save)
	})

	recent := shuffle.NewRecentStore(config.Shuffle.RecentCapacity, config.Shuffle.FalsePositiveRate)
	shuffleBuffer := shuffle.NewBuffer(library, recent, core.DefaultShuffleFetchTimeout, logger.Named("shuffle"))

	availability := probe.Availability{
		Storage: probe.NewStorage(config.Download.Root, logger.Named("probe")),
		Network: probe.NewNetwork(config.Network.ProbeAddr,
			time.Duration(config.Network.ProbeIntervalSecs)*time.Second,
			time.Duration(config.Network.ProbeTimeoutSecs)*time.Second,
			logger.Named("probe")),
	}

	player := playback.NewPlayer(logger.Named("player"))
	jukebox := playback.NewJukebox(logger.Named("jukebox"))
	metrics := httpserver.NewMetrics()

	downloader := core.NewDownloader(config, items, core.Collaborators{
		Player:       player,
		Remote:       jukebox,
		Shuffle:      shuffleBuffer,
		Availability: availability,
		Scanner:      library,
		Observer:     metrics,
	}, logger.Named("downloader"))

	limiter := flood.New(config.Server.RequestsPerMinute)
	api := &httpserver.API{
		Scheduler: downloader,
		Library:   library,
		Player:    player,
		Jukebox:   jukebox,
		Limiter:   limiter,
	}
	httpServer := httpserver.NewServer(&config.Server, api, metrics, availability.StorageAvailable,
		logger.Named("http"))

	return &services{
		library:    library,
		downloader: downloader,
		network:    availability.Network,
		limiter:    limiter,
		httpServer: httpServer,
	}, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.network.Run(gCtx)
	})

	g.Go(func() error {
		return svcs.limiter.Run(gCtx)
	})

	g.Go(func() error {
		return svcs.downloader.Start(gCtx, config.CheckInterval())
	})

	logger.Info("prefetchd started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.Duration("check_interval", config.CheckInterval()))

	if err := g.Wait(); err != nil {
		logger.Error("prefetchd stopped with error", zap.Error(err))
		return err
	}

	logger.Info("prefetchd stopped gracefully")
	return nil
}

// close cancels outstanding transfers and releases the library.
func (s *services) close() {
	s.downloader.Close()
	if err := s.library.Close(); err != nil {
		logger.Debug("Failed to close library", zap.Error(err))
	}
}

func generateEnvExample() error {
	fmt.Println("Generating .env.example file from current configuration...")

	if err := os.WriteFile(".env.example", []byte(generateEnvExampleContent()), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent() string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# prefetchd Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SECTION>_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range flagSections {
		content.WriteString("# -----------------------------------------------------------------------------\n")
		fmt.Fprintf(&content, "# %s\n", section.title)
		content.WriteString("# -----------------------------------------------------------------------------\n")
		for _, def := range section.flags {
			fmt.Fprintf(&content, "# %s\n%s=%v\n", def.usage, flagToEnvVar(def.name), def.value)
		}
		content.WriteString("\n")
	}

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
