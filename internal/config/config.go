package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/mapsync/pkg/core"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "mapsync.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. MAPSYNC_CONTROLLER_SECRET.
const EnvPrefix = "MAPSYNC"

// MapConfig is the construction-time state of a canvas.
type MapConfig struct {
	Viewport core.Viewport
	KML      string
	Styles   json.RawMessage
}

// ControllerConfig holds the websocket link between canvas and controller.
type ControllerConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
	Listen string `json:"listen" mapstructure:"listen"`
}

// MemoryConfig holds in-memory storage backend settings.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite storage backend settings.
type SQLiteConfig struct {
	Path         string
	DumpInterval time.Duration
	DumpPath     string
}

// StorageConfig selects and configures the scene storage backend.
type StorageConfig struct {
	Type   string
	Memory MemoryConfig
	SQLite SQLiteConfig
}

// DBConfig holds the postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds the interaction telemetry sink settings.
type InfluxConfig struct {
	Enabled   bool
	Protocol  string
	Host      string
	Port      string
	Token     string
	Org       string
	Bucket    string
	BackupDir string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// is not an error; defaults and environment overrides still apply.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("map.latitude", 0.0)
	viper.SetDefault("map.longitude", 0.0)
	viper.SetDefault("map.zoom", 8)
	viper.SetDefault("map.mapType", string(core.MapTypeRoadmap))
	viper.SetDefault("map.fitToMarkers", false)
	viper.SetDefault("map.kml", "")
	viper.SetDefault("map.styles", "")
	defaults := core.DefaultViewportOptions()
	viper.SetDefault("map.options.showDefaultControls", defaults.ShowDefaultControls)
	viper.SetDefault("map.options.showMapTypeControl", defaults.ShowMapTypeControl)
	viper.SetDefault("map.options.showStreetViewControl", defaults.ShowStreetViewControl)
	viper.SetDefault("map.options.disableZoom", defaults.DisableZoom)
	viper.SetDefault("map.options.minZoom", defaults.MinZoom)
	viper.SetDefault("map.options.maxZoom", defaults.MaxZoom)
	viper.SetDefault("map.options.tilt", defaults.Tilt)

	viper.SetDefault("controller.url", "ws://localhost:8765/canvas")
	viper.SetDefault("controller.secret", "")
	viper.SetDefault("controller.listen", ":8765")

	viper.SetDefault("status.listen", ":8766")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./scenes")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./scenes/mapsync.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapsync")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "mapsync")
	viper.SetDefault("influx.bucket", "interactions")
	viper.SetDefault("influx.backupDir", "./logs/influx")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetMapConfig returns the initial canvas state.
func GetMapConfig() (MapConfig, error) {
	opts := core.ViewportOptions{
		ShowDefaultControls:   viper.GetBool("map.options.showDefaultControls"),
		ShowMapTypeControl:    viper.GetBool("map.options.showMapTypeControl"),
		ShowStreetViewControl: viper.GetBool("map.options.showStreetViewControl"),
		DisableZoom:           viper.GetBool("map.options.disableZoom"),
		MinZoom:               viper.GetFloat64("map.options.minZoom"),
		MaxZoom:               viper.GetFloat64("map.options.maxZoom"),
		Tilt:                  viper.GetBool("map.options.tilt"),
	}

	mapType := core.MapType(viper.GetString("map.mapType"))
	if !mapType.Valid() {
		return MapConfig{}, fmt.Errorf("map.mapType: unknown map type %q", mapType)
	}

	cfg := MapConfig{
		Viewport: core.Viewport{
			Center: core.LatLng{
				Lat: viper.GetFloat64("map.latitude"),
				Lng: viper.GetFloat64("map.longitude"),
			},
			Zoom:         viper.GetFloat64("map.zoom"),
			MapType:      mapType,
			FitToMarkers: viper.GetBool("map.fitToMarkers"),
			Options:      opts,
		},
		KML: viper.GetString("map.kml"),
	}

	if styles := viper.GetString("map.styles"); styles != "" {
		if !json.Valid([]byte(styles)) {
			return MapConfig{}, fmt.Errorf("map.styles: not valid JSON")
		}
		cfg.Styles = json.RawMessage(styles)
	}
	return cfg, nil
}

// GetControllerConfig returns the canvas/controller link settings.
func GetControllerConfig() ControllerConfig {
	return ControllerConfig{
		URL:    viper.GetString("controller.url"),
		Secret: viper.GetString("controller.secret"),
		Listen: viper.GetString("controller.listen"),
	}
}

// GetStorageConfig returns the scene storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
	}
}

// GetDBConfig returns the postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the telemetry sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Protocol:  viper.GetString("influx.protocol"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
