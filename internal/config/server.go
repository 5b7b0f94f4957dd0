package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ServerConfig holds the signaling server settings.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port int `mapstructure:"port"`

	// MaxRoomSize caps room membership; 0 disables the cap.
	MaxRoomSize int `mapstructure:"max_room_size"`

	LogLevel string `mapstructure:"log_level"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LoadServer reads PORT, MAX_ROOM_SIZE and LOG_LEVEL from the environment,
// optionally layered over the file named by ECHO_CONFIG.
func LoadServer() (*ServerConfig, error) {
	v := viper.New()
	v.SetDefault("port", 3000)
	v.SetDefault("max_room_size", 0)
	v.SetDefault("log_level", "info")
	v.AutomaticEnv()

	if file := v.GetString("echo_config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxRoomSize < 0 {
		return nil, fmt.Errorf("invalid max room size %d", cfg.MaxRoomSize)
	}
	return &cfg, nil
}
