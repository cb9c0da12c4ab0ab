package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
	"github.com/ViktorIovenko/KopifilesNAS/internal/geo"
	"github.com/ViktorIovenko/KopifilesNAS/internal/media"
	"github.com/ViktorIovenko/KopifilesNAS/internal/notify"
	"github.com/ViktorIovenko/KopifilesNAS/internal/store"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore      *store.Store
	globalCache      *geo.Cache
	globalTiers      []geo.Tier
	globalClassifier *media.Classifier
	globalEngine     *engine.CopyEngine
	globalController *engine.Controller
)

// initializeComponents wires the store, geocoding chain, engine and
// controller from the loaded config.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// Initialize store
	dbPath := globalCfg.Server.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(globalCfg.Server.DataDir, "kopirnas.db")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	// Geocoding chain: cache, urban area polygons, offline gazetteer, then
	// the online service.
	globalCache = geo.OpenCache(globalCfg.DataPath(globalCfg.Geo.CacheFile), logger)

	places := geo.DefaultPlaces()
	if placesFile := globalCfg.DataPath(globalCfg.Geo.PlacesFile); placesFile != "" {
		extra, err := geo.LoadGeoNames(placesFile)
		if err != nil {
			logger.Warn("failed to load places file, using built-in places only", "path", placesFile, "error", err)
		} else {
			places = append(places, extra...)
		}
	}
	globalTiers = nil
	if globalCfg.Geo.Boundaries {
		globalTiers = append(globalTiers, geo.NewBoundaries(logger))
	}
	globalTiers = append(globalTiers, geo.NewGazetteer(places, globalCfg.Geo.MaxOfflineKm))

	if globalCfg.Geo.Online.Enabled {
		online, err := geo.NewNominatim(globalCfg.Geo.Online, logger)
		if err != nil {
			logger.Warn("online geocoding disabled", "error", err)
		} else {
			globalTiers = append(globalTiers, online)
		}
	}

	extractor := media.NewExtractor(logger)
	globalClassifier = media.NewClassifier(extractor, logger)
	globalEngine = engine.NewCopyEngine(extractor, globalCache, logger, globalTiers...)
	globalController = engine.NewController(globalEngine, globalStore, newNotifier(), logger)

	logger.Debug("components initialized", "db", dbPath, "places", len(places), "tiers", len(globalTiers))
	return nil
}

// newNotifier returns the Telegram notifier when it is enabled and usable,
// and a log-only notifier otherwise.
func newNotifier() engine.Notifier {
	tg := globalCfg.Notify.Telegram
	if !tg.Enabled {
		return notify.NewLog(logger)
	}
	n, err := notify.NewTelegram(tg, logger)
	if err != nil {
		logger.Warn("telegram notifications disabled", "error", err)
		return notify.NewLog(logger)
	}
	return n
}

// loadEnvFile loads notifier secrets from the configured .env file. A
// missing file only matters when notifications are on.
func loadEnvFile() {
	envFile := globalCfg.Notify.Telegram.EnvFile
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		if globalCfg.Notify.Telegram.Enabled {
			logger.Warn(".env file not loaded", "path", envFile, "error", err)
		}
		return
	}
	logger.Debug("environment loaded from .env", "path", envFile)
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"show":    true,
		"range":   true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kopirnas",
		Short: "Copy photos and videos from flash cards into a dated NAS library",
		Long: `kopirnas copies media from a removable source into a destination tree laid
out as YEAR/YYYY-MM-DD-City/, naming each day folder after the place the
pictures were taken. Places come from EXIF GPS, drone sidecar files, or a
location history export, resolved through a local cache, an offline place
list and an online reverse geocoder.`,
		Example: `  kopirnas copy --src /media/usb --dst /mnt/nas/Foto
  kopirnas copy --job-file /media/usb/config.txt
  kopirnas inspect /media/usb
  kopirnas serve --listen 0.0.0.0:5000
  kopirnas watch
  kopirnas status --limit 5`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dataDir != "" {
				globalCfg.Server.DataDir = dataDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "data_dir", globalCfg.Server.DataDir)
			}

			loadEnvFile()

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newCopyCmd(),
		newServeCmd(),
		newWatchCmd(),
		newInspectCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newArchiveCmd(),
		newGeocodeCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
