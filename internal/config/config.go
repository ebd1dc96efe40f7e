package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Backpressure   string        `mapstructure:"backpressure"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
	LongPoll       LongPoll      `mapstructure:"longpoll"`
	Redis          Redis         `mapstructure:"redis"`
	WebRTC         WebRTC        `mapstructure:"webrtc"`
}

type RateLimit struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type LongPoll struct {
	Wait        time.Duration `mapstructure:"wait"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type Redis struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
	FailFast    bool          `mapstructure:"fail_fast"`
}

type WebRTC struct {
	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Flags returns the command line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("config", "", "path to a yaml config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 0, "listen port")
	fs.String("mode", "", "debug or release")
	fs.String("log_level", "", "zerolog level")
	return fs
}

// Load reads the config file named by --config, or config/config.<CONFIG_ENV>.yaml,
// then applies RELAY_* environment variables and changed flags. A missing
// file is not an error.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := ""
	if fs != nil {
		fileName, _ = fs.GetString("config")
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, name := range []string{"port", "mode", "log_level"} {
			if err := v.BindPFlag(name, fs.Lookup(name)); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Bool("redis", cfg.Redis.Enabled).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8010)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{
		"http://localhost",
		"http://localhost:3000",
		"http://localhost:8080",
		"http://127.0.0.1",
		"http://127.0.0.1:5500",
	})
	v.SetDefault("backpressure", "kick")
	v.SetDefault("rate_limit.events", 20)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("longpoll.wait", "25s")
	v.SetDefault("longpoll.idle_timeout", "60s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_ttl", "2m")
	v.SetDefault("redis.fail_fast", false)
	v.SetDefault("webrtc.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("ping_period must be shorter than pong_wait"))
	}
	if c.Backpressure != "kick" && c.Backpressure != "drop" {
		errs = append(errs, fmt.Errorf("backpressure %q: want kick or drop", c.Backpressure))
	}
	if c.LongPoll.Wait <= 0 || c.LongPoll.IdleTimeout <= c.LongPoll.Wait {
		errs = append(errs, errors.New("longpoll.idle_timeout must exceed longpoll.wait"))
	}
	return errors.Join(errs...)
}
