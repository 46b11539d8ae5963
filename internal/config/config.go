// Package config loads the extension's JSON configuration through viper and
// exposes typed accessors.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RecorderConfig holds the observation-recorder storage settings.
type RecorderConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Backend  string `json:"backend" mapstructure:"backend"`
	FilePath string `json:"filePath" mapstructure:"filePath"`
}

// Load reads configuration from the JSON config file in configDir and sets
// default values. Missing file is an error; callers may ignore it and run on
// defaults.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./alvarlogs")

	// Detection defaults match the wrapper's historical thresholds.
	viper.SetDefault("detector.count", 2)
	viper.SetDefault("detector.maxMarkerError", 0.08)
	viper.SetDefault("detector.maxTrackError", 0.2)

	viper.SetDefault("camera.near", 0.1)
	viper.SetDefault("camera.far", 1000.0)

	viper.SetDefault("recorder.enabled", false)
	viper.SetDefault("recorder.backend", "sqlite")
	viper.SetDefault("recorder.filePath", "./alvar_observations.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "alvar")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "alvar-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)

	viper.SetConfigName("alvar_extension.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
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

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Recorder returns the recorder settings as a struct.
func Recorder() RecorderConfig {
	return RecorderConfig{
		Enabled:  viper.GetBool("recorder.enabled"),
		Backend:  viper.GetString("recorder.backend"),
		FilePath: viper.GetString("recorder.filePath"),
	}
}
