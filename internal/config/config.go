package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for the persisted session.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

// Send policies for a message submitted while a reply is still streaming.
const (
	SendPolicyReject = "reject"
	SendPolicyQueue  = "queue"
)

type Config interface {
	EnvConfig
	EndpointConfig
	StorageConfig
	ChatConfig
	AuthConfig
	LogConfig
	DevBackendConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
}

type EndpointConfig interface {
	GetAPIURL() string
	GetHubURL() string
	GetChatURL() string
}

type StorageConfig interface {
	GetStorageBackend() string
	GetStorageDir() string
	GetRedisAddress() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type ChatConfig interface {
	GetChatIdleWindow() time.Duration
	GetChatBackoff() []time.Duration
	GetChatRetryInterval() time.Duration
	GetChatSendPolicy() string
}

type AuthConfig interface {
	GetRefreshSkew() time.Duration
}

type LogConfig interface {
	GetLogLevel() string
	GetLogPretty() bool
}

type DevBackendConfig interface {
	GetPort() string
	GetJWTSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetReplyDelay() time.Duration
}

type mainConfig struct {
	App        appSettings        `mapstructure:"app"`
	API        apiSettings        `mapstructure:"api"`
	Hub        urlSettings        `mapstructure:"hub"`
	Chat       chatSettings       `mapstructure:"chat"`
	Storage    storageSettings    `mapstructure:"storage"`
	Redis      redisSettings      `mapstructure:"redis"`
	Auth       authSettings       `mapstructure:"auth"`
	Log        logSettings        `mapstructure:"log"`
	DevBackend devBackendSettings `mapstructure:"devbackend"`
}

type appSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type apiSettings struct {
	URL string `mapstructure:"url"`
}

type urlSettings struct {
	URL string `mapstructure:"url"`
}

type chatSettings struct {
	URL           string          `mapstructure:"url"`
	IdleWindow    time.Duration   `mapstructure:"idle_window"`
	Backoff       []time.Duration `mapstructure:"backoff"`
	RetryInterval time.Duration   `mapstructure:"retry_interval"`
	SendPolicy    string          `mapstructure:"send_policy"`
}

type storageSettings struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type redisSettings struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type authSettings struct {
	RefreshSkew time.Duration `mapstructure:"refresh_skew"`
}

type logSettings struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type devBackendSettings struct {
	Port          string        `mapstructure:"port"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
	ReplyDelay    time.Duration `mapstructure:"reply_delay"`
}

var _ Config = (*mainConfig)(nil)

// New returns the configuration built from defaults and the environment only.
func New() Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate; only a malformed environment gets here.
		panic(err)
	}
	return cfg
}

// Load reads configuration from configPath (or finstats.yaml in the usual
// places when empty), then applies FINSTATS_* environment overrides.
// A missing config file is not an error.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("finstats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.finstats")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("[config.Load] read config: %w", err)
		}
	}

	cfg := &mainConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("[config.Load] decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("[config.Load] %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "FinStats")
	v.SetDefault("app.env", "DEV")
	v.SetDefault("api.url", "http://localhost:8080/api")
	v.SetDefault("hub.url", "")
	v.SetDefault("chat.url", "")
	v.SetDefault("chat.idle_window", "2s")
	v.SetDefault("chat.backoff", []string{"0s", "2s", "10s", "30s"})
	v.SetDefault("chat.retry_interval", "5s")
	v.SetDefault("chat.send_policy", SendPolicyReject)
	v.SetDefault("storage.backend", StorageFile)
	v.SetDefault("storage.dir", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "finstats:")
	v.SetDefault("auth.refresh_skew", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("devbackend.port", "8080")
	v.SetDefault("devbackend.jwt_secret", "finstats-dev-secret")
	v.SetDefault("devbackend.access_expiry", "15m")
	v.SetDefault("devbackend.refresh_expiry", "168h")
	v.SetDefault("devbackend.reply_delay", "150ms")
}

// normalize validates enumerations and derives the realtime URLs from the API URL.
func (c *mainConfig) normalize() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Backend {
	case StorageFile, StorageRedis:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageFile, StorageRedis, c.Storage.Backend)
	}

	c.Chat.SendPolicy = strings.ToLower(strings.TrimSpace(c.Chat.SendPolicy))
	switch c.Chat.SendPolicy {
	case SendPolicyReject, SendPolicyQueue:
	default:
		return fmt.Errorf("chat.send_policy must be %q or %q, got %q", SendPolicyReject, SendPolicyQueue, c.Chat.SendPolicy)
	}

	if c.Chat.IdleWindow <= 0 {
		return fmt.Errorf("chat.idle_window must be positive")
	}
	for _, d := range c.Chat.Backoff {
		if d < 0 {
			return fmt.Errorf("chat.backoff delays must not be negative")
		}
	}

	api, err := url.Parse(c.API.URL)
	if err != nil || api.Scheme == "" || api.Host == "" {
		return fmt.Errorf("api.url %q is not an absolute URL", c.API.URL)
	}
	origin := api.Scheme + "://" + api.Host
	if c.Hub.URL == "" {
		c.Hub.URL = origin + "/ai-hub"
	}
	if c.Chat.URL == "" {
		c.Chat.URL = origin + "/chat"
	}
	return nil
}

func (c *mainConfig) GetAppName() string { return c.App.Name }
func (c *mainConfig) GetEnv() string     { return c.App.Env }

func (c *mainConfig) GetAPIURL() string  { return strings.TrimRight(c.API.URL, "/") }
func (c *mainConfig) GetHubURL() string  { return c.Hub.URL }
func (c *mainConfig) GetChatURL() string { return c.Chat.URL }

func (c *mainConfig) GetStorageBackend() string { return c.Storage.Backend }
func (c *mainConfig) GetStorageDir() string     { return c.Storage.Dir }
func (c *mainConfig) GetRedisAddress() string   { return c.Redis.Address }
func (c *mainConfig) GetRedisPassword() string  { return c.Redis.Password }
func (c *mainConfig) GetRedisDB() int           { return c.Redis.DB }
func (c *mainConfig) GetRedisPrefix() string    { return c.Redis.Prefix }

func (c *mainConfig) GetChatIdleWindow() time.Duration { return c.Chat.IdleWindow }

func (c *mainConfig) GetChatBackoff() []time.Duration {
	return append([]time.Duration(nil), c.Chat.Backoff...)
}

func (c *mainConfig) GetChatRetryInterval() time.Duration { return c.Chat.RetryInterval }
func (c *mainConfig) GetChatSendPolicy() string           { return c.Chat.SendPolicy }

func (c *mainConfig) GetRefreshSkew() time.Duration { return c.Auth.RefreshSkew }

func (c *mainConfig) GetLogLevel() string { return c.Log.Level }
func (c *mainConfig) GetLogPretty() bool  { return c.Log.Pretty }

func (c *mainConfig) GetPort() string {
	port := c.DevBackend.Port
	if port != "" && port[0] != ':' {
		port = ":" + port
	}
	return port
}

func (c *mainConfig) GetJWTSecret() string                 { return c.DevBackend.JWTSecret }
func (c *mainConfig) GetAccessTokenExpiry() time.Duration  { return c.DevBackend.AccessExpiry }
func (c *mainConfig) GetRefreshTokenExpiry() time.Duration { return c.DevBackend.RefreshExpiry }
func (c *mainConfig) GetReplyDelay() time.Duration         { return c.DevBackend.ReplyDelay }
