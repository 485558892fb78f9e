package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ChannelConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type SignalConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Username  string `mapstructure:"username"`
	Channel   string `mapstructure:"channel"`
}

type VADConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	ThresholdDB float64       `mapstructure:"threshold_db"`
	Bins        int           `mapstructure:"bins"`
}

type PeerConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`
}

type QualityConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Mode       string          `mapstructure:"mode"`
	Port       int             `mapstructure:"port"`
	StaticPath string          `mapstructure:"static_path"`
	ReadLimit  int64           `mapstructure:"read_limit"`
	PingPeriod time.Duration   `mapstructure:"ping_period"`
	Secret     string          `mapstructure:"secret"`
	LogLevel   string          `mapstructure:"log_level"`
	Channels   []ChannelConfig `mapstructure:"channels"`
	ICEServers []ICEServer     `mapstructure:"ice_servers"`
	Signal     SignalConfig    `mapstructure:"signal"`
	Client     ClientConfig    `mapstructure:"client"`
	VAD        VADConfig       `mapstructure:"vad"`
	Peer       PeerConfig      `mapstructure:"peer"`
	Quality    QualityConfig   `mapstructure:"quality"`
	Redis      RedisConfig     `mapstructure:"redis"`
}

// WebRTCICEServers converts the configured ICE servers for pion.
func (c *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func (c *Config) validate() error {
	switch {
	case c.VAD.Interval <= 0:
		return fmt.Errorf("vad.interval must be positive, got %s", c.VAD.Interval)
	case c.VAD.Bins <= 0:
		return fmt.Errorf("vad.bins must be positive, got %d", c.VAD.Bins)
	case c.Quality.Interval <= 0:
		return fmt.Errorf("quality.interval must be positive, got %s", c.Quality.Interval)
	case c.Peer.MaxRetries < 0:
		return fmt.Errorf("peer.max_retries must not be negative, got %d", c.Peer.MaxRetries)
	case c.Peer.RetryDelay < 0:
		return fmt.Errorf("peer.retry_delay must not be negative, got %s", c.Peer.RetryDelay)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("channels", []map[string]any{
		{"id": "lobby", "name": "Lobby"},
	})
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.username", "guest")
	v.SetDefault("client.channel", "lobby")
	v.SetDefault("vad.interval", "100ms")
	v.SetDefault("vad.threshold_db", -45.0)
	v.SetDefault("vad.bins", 512)
	v.SetDefault("peer.max_retries", 3)
	v.SetDefault("peer.retry_delay", "2s")
	v.SetDefault("peer.disconnect_timeout", "0s")
	v.SetDefault("quality.interval", "2s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then VOICE_*
// environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config")
	return &cfg, nil
}
