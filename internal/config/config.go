package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"planning-poker-server/internal/core"
)

const envPrefix = "POKER"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Rooms  RoomsConfig  `mapstructure:"rooms"`
	WS     WSConfig     `mapstructure:"ws"`
	Poker  PokerConfig  `mapstructure:"poker"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RoomsConfig struct {
	EmptyPolicy   core.RetentionMode `mapstructure:"empty_policy"`
	GracePeriod   time.Duration      `mapstructure:"grace_period"`
	SweepInterval time.Duration      `mapstructure:"sweep_interval"`
}

func (r RoomsConfig) Policy() core.RetentionPolicy {
	if r.EmptyPolicy == core.DeleteWhenEmpty {
		return core.DeleteImmediately()
	}
	return core.DeleteAfter(r.GracePeriod)
}

type WSConfig struct {
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	PongTimeout          time.Duration `mapstructure:"pong_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	SendBuffer           int           `mapstructure:"send_buffer"`
	MaxMessagesPerSecond int           `mapstructure:"max_messages_per_second"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"`
}

type PokerConfig struct {
	// Deck lists the accepted card values; empty accepts any value.
	Deck []string `mapstructure:"deck"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("rooms.empty_policy", core.RetainForGrace.String())
	v.SetDefault("rooms.grace_period", core.DefaultGracePeriod)
	v.SetDefault("rooms.sweep_interval", core.DefaultSweepInterval)

	v.SetDefault("ws.write_timeout", 10*time.Second)
	v.SetDefault("ws.pong_timeout", 60*time.Second)
	v.SetDefault("ws.ping_interval", 54*time.Second)
	v.SetDefault("ws.max_message_size", 4096)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.max_messages_per_second", 10)
	v.SetDefault("ws.allowed_origins", []string{"*"})

	v.SetDefault("poker.deck", []string{})
}

// Loader reads configuration from defaults, an optional config file,
// POKER_* environment variables and command line flags, in increasing
// order of precedence.
type Loader struct {
	v        *viper.Viper
	fs       afero.Fs
	fileRead bool
}

type LoaderOption func(*Loader)

// WithFs reads config files from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) LoaderOption {
	return func(l *Loader) { l.fs = fs }
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{v: viper.New()}
	for _, opt := range opts {
		opt(l)
	}
	if l.fs != nil {
		l.v.SetFs(l.fs)
	}
	setDefaults(l.v)
	return l
}

func (l *Loader) Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("planning-poker-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a config file")
	flags.String("host", l.v.GetString("server.host"), "listen host")
	flags.IntP("port", "p", l.v.GetInt("server.port"), "listen port")
	flags.String("log-level", l.v.GetString("log.level"), "log level (debug, info, warn, error)")
	flags.String("empty-policy", l.v.GetString("rooms.empty_policy"), "what to do with empty rooms (grace, immediate)")
	flags.Duration("grace-period", l.v.GetDuration("rooms.grace_period"), "how long an empty room is kept")
	flags.StringSlice("deck", nil, "accepted card values, any value when empty")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	for key, flag := range map[string]string{
		"server.host":        "host",
		"server.port":        "port",
		"log.level":          "log-level",
		"rooms.empty_policy": "empty-policy",
		"rooms.grace_period": "grace-period",
		"poker.deck":         "deck",
	} {
		if err := l.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	if err := l.v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if err := l.readFile(*configPath); err != nil {
		return Config{}, err
	}
	return l.decode()
}

// Watch calls onChange whenever the config file that was loaded changes.
func (l *Loader) Watch(onChange func(Config)) {
	if !l.fileRead {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("reload config")
			return
		}
		log.Info().Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) readFile(path string) error {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("poker")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/planning-poker")
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		l.fileRead = true
		log.Debug().Str("file", l.v.ConfigFileUsed()).Msg("config file loaded")
		return nil
	case path == "" && errors.As(err, &notFound):
		return nil
	default:
		return fmt.Errorf("read config: %w", err)
	}
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		retentionModeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func retentionModeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(core.RetentionMode(0)) {
		return data, nil
	}
	return core.ParseRetentionMode(data.(string))
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Rooms.EmptyPolicy == core.RetainForGrace && c.Rooms.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive, got %s", c.Rooms.GracePeriod)
	}
	if c.Rooms.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.Rooms.SweepInterval)
	}
	return nil
}
