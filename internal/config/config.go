package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServerURL = "ws://localhost:3000/ws"
	DefaultName      = "Guest"
)

// DefaultSTUN are the public STUN servers used when none are configured.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Keys used with viper. Flags are bound to the same names.
const (
	KeyServer     = "server"
	KeyName       = "name"
	KeySTUN       = "stun"
	KeyTURN       = "turn"
	KeyTURNUser   = "turn-user"
	KeyTURNPass   = "turn-pass"
	KeyForceRelay = "relay"
	KeyAudioFile  = "audio"
	KeyVideoFile  = "video"
	KeyScreenFile = "screen"
	KeyHeadless   = "headless"
	KeyLogLevel   = "log-level"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the websocket URL of the signaling server.
	ServerURL string `mapstructure:"server"`

	// Name is the display name sent on join.
	Name string `mapstructure:"name"`

	// ICE servers for WebRTC
	STUNServers []string `mapstructure:"stun"`
	TURNServer  string   `mapstructure:"turn"`
	TURNUser    string   `mapstructure:"turn-user"`
	TURNPass    string   `mapstructure:"turn-pass"`
	ForceRelay  bool     `mapstructure:"relay"`

	// Capture sources. Empty paths publish silent tracks.
	AudioFile  string `mapstructure:"audio"`
	VideoFile  string `mapstructure:"video"`
	ScreenFile string `mapstructure:"screen"`

	Headless bool   `mapstructure:"headless"`
	LogLevel string `mapstructure:"log-level"`
}

// SetDefaults installs the client defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyServer, DefaultServerURL)
	v.SetDefault(KeyName, DefaultName)
	v.SetDefault(KeySTUN, DefaultSTUN)

	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	for _, key := range []string{KeyTURN, KeyTURNUser, KeyTURNPass, KeyAudioFile, KeyVideoFile, KeyScreenFile, KeyLogLevel} {
		v.SetDefault(key, "")
	}
	v.SetDefault(KeyForceRelay, false)
	v.SetDefault(KeyHeadless, false)
}

// NewViper returns a viper instance reading ECHO_* environment variables
// and, when present, the given config file.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("echo")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load reads configuration with the following priority:
// 1. CLI flags bound to v - highest priority
// 2. ECHO_* environment variables
// 3. Config file
// 4. Defaults - lowest priority
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A comma separated env value arrives as a single element.
	var stun []string
	for _, s := range cfg.STUNServers {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				stun = append(stun, part)
			}
		}
	}
	cfg.STUNServers = stun

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", cfg.ServerURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	cfg.ServerURL = u.String()

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return &cfg, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
