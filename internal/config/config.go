package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Watch        WatchConfig        `yaml:"watch"`
	Destinations DestinationsConfig `yaml:"destinations"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Formats      []string           `yaml:"formats"`
	Geo          GeoConfig          `yaml:"geo"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// WatchConfig controls the job config watcher and the default source volume.
type WatchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SourcePath string        `yaml:"source_path"`
	JobFile    string        `yaml:"job_file"`
	Interval   time.Duration `yaml:"interval"`
}

// DestinationsConfig maps each device kind to its destination root.
type DestinationsConfig struct {
	Pocket string `yaml:"pocket"`
	Drone  string `yaml:"drone"`
	Foto   string `yaml:"foto"`
}

// ArchiveConfig points at the location history export(s).
type ArchiveConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// GeoConfig holds reverse geocoding settings
type GeoConfig struct {
	CacheFile    string       `yaml:"cache_file"`
	PlacesFile   string       `yaml:"places_file"`
	MaxOfflineKm float64      `yaml:"max_offline_km"`
	Boundaries   bool         `yaml:"boundaries"`
	Online       OnlineConfig `yaml:"online"`
}

// OnlineConfig configures the Nominatim-compatible online geocoder.
type OnlineConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	UserAgent  string        `yaml:"user_agent"`
	Language   string        `yaml:"language"`
	Timeout    time.Duration `yaml:"timeout"`
	MinDelay   time.Duration `yaml:"min_delay"`
	ErrorWait  time.Duration `yaml:"error_wait"`
	MaxRetries int           `yaml:"max_retries"`
}

// NotifyConfig holds completion notification settings
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig names the environment variables carrying bot credentials.
// Secrets never live in the YAML file itself.
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url"`
	TokenEnv string        `yaml:"token_env"`
	ChatEnv  string        `yaml:"chat_env"`
	EnvFile  string        `yaml:"env_file"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultFormats is the extension allow-list used when neither the job nor
// the config file names one.
var DefaultFormats = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".mp4", ".avi", ".mov", ".mkv"}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:  "127.0.0.1:5000",
			DataDir: "/var/lib/kopirnas",
			DBPath:  "",
		},
		Watch: WatchConfig{
			Enabled:    false,
			SourcePath: "/media/usb",
			JobFile:    "config.txt",
			Interval:   10 * time.Second,
		},
		Destinations: DestinationsConfig{
			Pocket: "/mnt/nas/Pocket",
			Drone:  "/mnt/nas/Drone",
			Foto:   "/mnt/nas/Foto",
		},
		Archive: ArchiveConfig{
			Enabled: false,
		},
		Formats: append([]string(nil), DefaultFormats...),
		Geo: GeoConfig{
			CacheFile:    "geocache.json",
			MaxOfflineKm: 50,
			Boundaries:   true,
			Online: OnlineConfig{
				Enabled:    true,
				BaseURL:    "https://nominatim.openstreetmap.org",
				UserAgent:  "kopirnas/1.0",
				Language:   "en",
				Timeout:    3 * time.Second,
				MinDelay:   time.Second,
				ErrorWait:  2 * time.Second,
				MaxRetries: 1,
			},
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled:  false,
				BaseURL:  "https://api.telegram.org",
				TokenEnv: "TELEGRAM_BOT_TOKEN",
				ChatEnv:  "TELEGRAM_USER_ID",
				EnvFile:  ".env",
				Timeout:  5 * time.Second,
			},
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Formats = NormalizeFormats(cfg.Formats)

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"kopirnas.yaml",
		"/etc/kopirnas/kopirnas.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "kopirnas", "kopirnas.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// DestinationFor returns the configured destination root for a device kind.
// Unknown kinds fall back to the Pocket destination.
func (c *Config) DestinationFor(kind string) string {
	switch strings.ToLower(kind) {
	case "drone":
		return c.Destinations.Drone
	case "foto":
		return c.Destinations.Foto
	default:
		return c.Destinations.Pocket
	}
}

// DataPath resolves a possibly relative path against the data directory.
func (c *Config) DataPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Server.DataDir, p)
}

// JobDefaults builds the JobConfig used when a run is started without an
// explicit job file: the archive and formats come from the YAML config.
func (c *Config) JobDefaults(src, dst string) JobConfig {
	return JobConfig{
		Source:     src,
		Dest:       dst,
		Archive:    c.Archive.Path,
		UseArchive: c.Archive.Enabled && c.Archive.Path != "",
		Formats:    NormalizeFormats(c.Formats),
	}
}
