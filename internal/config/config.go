package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Detection credentials are commonly kept in a .env file; a missing
	// file is fine.
	_ = godotenv.Load()

	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/doc-sentinel/")
	viper.AddConfigPath("$HOME/.doc-sentinel/")

	// Environment variable overrides
	viper.SetEnvPrefix("DOCSENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unprefixed aliases used by existing deployments
	_ = viper.BindEnv("detection.api_key", "DOCSENTINEL_DETECTION_API_KEY", "DETECTION_KEY")
	_ = viper.BindEnv("detection.endpoint", "DOCSENTINEL_DETECTION_ENDPOINT", "DETECTION_ENDPOINT")

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Detection.MinConfidence < 0 || config.Detection.MinConfidence > 1 {
		return fmt.Errorf("invalid detection min_confidence: %f (must be between 0 and 1)", config.Detection.MinConfidence)
	}

	if config.Detection.ChunkSize <= 0 {
		return fmt.Errorf("invalid detection chunk_size: %d (must be positive)", config.Detection.ChunkSize)
	}

	if config.Layout.PageWidth <= 0 || config.Layout.PageHeight <= 0 {
		return fmt.Errorf("invalid page dimensions: %gx%g", config.Layout.PageWidth, config.Layout.PageHeight)
	}

	if config.Layout.FontSize <= 0 {
		return fmt.Errorf("invalid layout font_size: %g", config.Layout.FontSize)
	}

	if config.Layout.Margin < 0 || config.Layout.Margin*2 >= config.Layout.PageWidth {
		return fmt.Errorf("invalid layout margin: %g", config.Layout.Margin)
	}

	if config.Queue.OpTimeout <= 0 {
		return fmt.Errorf("invalid queue op_timeout: %s (must be positive)", config.Queue.OpTimeout)
	}

	if config.Session.TTL <= 0 {
		return fmt.Errorf("invalid session ttl: %s (must be positive)", config.Session.TTL)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
