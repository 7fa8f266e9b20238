package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Server struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"min=512"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	SendQueue  int           `mapstructure:"send_queue" validate:"min=1"`
	// Backpressure is what the relay does to a connection whose queue is
	// full: "drop" the frame or "kick" the connection.
	Backpressure string        `mapstructure:"backpressure" validate:"oneof=drop kick"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// RateLimit is publishes per party per RateInterval; 0 disables it.
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=0"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type Call struct {
	NegotiationTimeout  time.Duration `mapstructure:"negotiation_timeout"`
	Trickle             bool          `mapstructure:"trickle"`
	ICEServers          []string      `mapstructure:"ice_servers"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
}

type Media struct {
	Driver       string `mapstructure:"driver" validate:"oneof=devices synthetic"`
	MaxWidth     int    `mapstructure:"max_width"`
	MaxHeight    int    `mapstructure:"max_height"`
	VideoBitRate int    `mapstructure:"video_bitrate"`
}

type Bus struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=ws gossip memory"`
	URL             string        `mapstructure:"url"`
	Token           string        `mapstructure:"token"`
	GossipListen    []string      `mapstructure:"gossip_listen"`
	GossipBootstrap []string      `mapstructure:"gossip_bootstrap"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
}

type Store struct {
	Driver        string        `mapstructure:"driver" validate:"oneof=none sqlite postgres"`
	DSN           string        `mapstructure:"dsn"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

type Agent struct {
	SelfID     string `mapstructure:"self_id"`
	Username   string `mapstructure:"username"`
	FullName   string `mapstructure:"full_name"`
	AutoAnswer bool   `mapstructure:"auto_answer"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Server   Server `mapstructure:"server"`
	Call     Call   `mapstructure:"call"`
	Media    Media  `mapstructure:"media"`
	Bus      Bus    `mapstructure:"bus"`
	Store    Store  `mapstructure:"store"`
	Agent    Agent  `mapstructure:"agent"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_path", "./web")
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.send_queue", 64)
	v.SetDefault("server.backpressure", "kick")
	v.SetDefault("server.token_ttl", "24h")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_interval", "1s")

	v.SetDefault("call.negotiation_timeout", "30s")
	v.SetDefault("call.trickle", true)
	v.SetDefault("call.ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("call.disconnected_timeout", "30s")
	v.SetDefault("call.failed_timeout", "120s")
	v.SetDefault("call.keepalive_interval", "2s")

	v.SetDefault("media.driver", "synthetic")
	v.SetDefault("media.max_width", 640)
	v.SetDefault("media.max_height", 480)
	v.SetDefault("media.video_bitrate", 500_000)

	v.SetDefault("bus.driver", "ws")
	v.SetDefault("bus.url", "ws://localhost:8080/api/ws/bus")
	v.SetDefault("bus.gossip_listen", []string{"/ip4/0.0.0.0/tcp/0"})
	v.SetDefault("bus.gossip_bootstrap", []string{})
	v.SetDefault("bus.token", "")
	v.SetDefault("bus.reconnect_delay", "2s")

	v.SetDefault("store.driver", "none")
	v.SetDefault("store.dsn", "./data")
	v.SetDefault("store.retention", "720h")
	v.SetDefault("store.prune_schedule", "@every 60m")

	v.SetDefault("agent.self_id", "")
	v.SetDefault("agent.username", "")
	v.SetDefault("agent.full_name", "")
	v.SetDefault("agent.auto_answer", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults, then RINGCALL_* environment variables over both.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if path := os.Getenv("RINGCALL_CONFIG"); path != "" {
		fileName = path
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("ringcall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyLogLevel sets the global zerolog level; unknown names fall back to info.
func ApplyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Watch reapplies the log level when the config file changes. Other
// settings need a restart.
func Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("config reload rejected")
			return
		}
		ApplyLogLevel(cfg.LogLevel)
		log.Info().Str("module", "config").Str("file", e.Name).Str("log_level", cfg.LogLevel).Msg("config reloaded")
	})
	v.WatchConfig()
}
