package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissingToken = errors.New("telegram bot token is not configured")

type Config struct {
	Telegram   Telegram   `mapstructure:"telegram"`
	Store      Store      `mapstructure:"store"`
	Router     Router     `mapstructure:"router"`
	Supervisor Supervisor `mapstructure:"supervisor"`
	Log        Log        `mapstructure:"log"`
}

type Telegram struct {
	BotToken        string        `mapstructure:"bot_token"`
	TokenFile       string        `mapstructure:"token_file"`
	Debug           bool          `mapstructure:"debug"`
	PollTimeout     int           `mapstructure:"poll_timeout"`
	PollRetryDelay  time.Duration `mapstructure:"poll_retry_delay"`
	MaxPollFailures int           `mapstructure:"max_poll_failures"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	APIEndpoint     string        `mapstructure:"api_endpoint"`
	FileEndpoint    string        `mapstructure:"file_endpoint"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
}

type Store struct {
	Type      string  `mapstructure:"type"`
	ImagesDir string  `mapstructure:"images_dir"`
	DBPath    string  `mapstructure:"db_path"`
	Bucket    string  `mapstructure:"bucket"`
	S3        S3      `mapstructure:"s3"`
	Dropbox   Dropbox `mapstructure:"dropbox"`
}

type S3 struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	SavePath        string `mapstructure:"save_path"`
	Endpoint        string `mapstructure:"endpoint"`
}

type Dropbox struct {
	AccessToken string `mapstructure:"access_token"`
	SavePath    string `mapstructure:"save_path"`
}

type Router struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type Supervisor struct {
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// setDefaults registers every key, optional ones with their zero value:
// Unmarshal only sees environment overrides for keys viper knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.token_file", "TOKEN.txt")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.poll_retry_delay", 3*time.Second)
	v.SetDefault("telegram.max_poll_failures", 5)
	v.SetDefault("telegram.rate_limit", 25)
	v.SetDefault("telegram.rate_burst", 5)
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.file_endpoint", "https://api.telegram.org/file/bot%s/%s")
	v.SetDefault("telegram.max_file_size", 20*1024*1024)

	v.SetDefault("store.type", "file")
	v.SetDefault("store.images_dir", "images")
	v.SetDefault("store.db_path", "images.db")
	v.SetDefault("store.bucket", "images")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.save_path", "images")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.dropbox.access_token", "")
	v.SetDefault("store.dropbox.save_path", "/images")

	v.SetDefault("router.workers", runtime.NumCPU())
	v.SetDefault("router.queue_size", 16)

	v.SetDefault("supervisor.restart_delay", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads config.yaml from the given search paths (./external and the
// working directory when none are given). A missing file is not an error,
// defaults and environment variables are used instead.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if len(paths) == 0 {
		paths = []string{"./external", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN", "TOKEN"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Router.Workers <= 0 {
		cfg.Router.Workers = runtime.NumCPU()
	}
	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = 16
	}

	return &cfg, nil
}

// Token returns the bot credential, taken from the environment/config first
// and from the token file otherwise.
func (t Telegram) Token() (string, error) {
	if token := strings.TrimSpace(t.BotToken); token != "" {
		return token, nil
	}
	if t.TokenFile == "" {
		return "", ErrMissingToken
	}

	raw, err := os.ReadFile(t.TokenFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMissingToken
		}
		return "", fmt.Errorf("read token file %s: %w", t.TokenFile, err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
