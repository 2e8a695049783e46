package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/virtual-drivefs/vdfs"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	DriveFS DriveFSConfig `mapstructure:"drivefs"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"`
}

// DriveFSConfig stores drivefs specific configurations.
type DriveFSConfig struct {
	CacheDir            string         `mapstructure:"cacheDir"`
	FeedCacheDir        string         `mapstructure:"feedCacheDir"`
	IgnoreFile          string         `mapstructure:"ignoreFile"`
	Database            DatabaseConfig `mapstructure:"database"`
	PollIntervalSeconds int            `mapstructure:"pollIntervalSeconds"`
	HideHostedDocuments bool           `mapstructure:"hideHostedDocuments"`
	SnapshotOnApply     bool           `mapstructure:"snapshotOnApply"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("drivefs.cacheDir", internal.DefaultCacheDir)
	viper.SetDefault("drivefs.feedCacheDir", internal.DefaultFeedCacheDir)
	viper.SetDefault("drivefs.ignoreFile", internal.DefaultIgnoreFile)
	viper.SetDefault("drivefs.database.dsn", internal.DefaultDatabaseDSN)
	viper.SetDefault("drivefs.database.type", internal.DefaultDatabaseType)
	viper.SetDefault("drivefs.pollIntervalSeconds", 300)
	viper.SetDefault("drivefs.hideHostedDocuments", false)
	viper.SetDefault("drivefs.snapshotOnApply", true)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. drivefs.database.dsn becomes DRIVEFS_DATABASE_DSN

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
