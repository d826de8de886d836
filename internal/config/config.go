package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type HTTPServer struct {
	Addr string `yaml:"address" env:"LISTEN_ADDR" env-default:"127.0.0.1:8600"`
}

type RemoteAPI struct {
	BaseURL      string        `yaml:"API_BASE_URL" env:"API_BASE_URL" env-required:"true"`
	Timeout      time.Duration `yaml:"API_TIMEOUT" env:"API_TIMEOUT" env-default:"30s"`
	GetCacheTTL  time.Duration `yaml:"API_GET_CACHE_TTL" env:"API_GET_CACHE_TTL" env-default:"3m"`
	MinCallSpace time.Duration `yaml:"API_MIN_CALL_SPACING" env:"API_MIN_CALL_SPACING" env-default:"500ms"`
}

type Storage struct {
	Path string `yaml:"STORAGE_PATH" env:"STORAGE_PATH" env-default:"cartsync.db"`
}

type CacheConfig struct {
	Backend    string        `yaml:"CACHE_BACKEND" env:"CACHE_BACKEND" env-default:"memory"`
	DefaultTTL time.Duration `yaml:"CACHE_DEFAULT_TTL" env:"CACHE_DEFAULT_TTL" env-default:"3m"`
}

type RedisConnect struct {
	Host     string `yaml:"REDIS_HOST" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"REDIS_PORT" env:"REDIS_PORT" env-default:"6379"`
	Username string `yaml:"REDIS_USER" env:"REDIS_USER" env-default:""`
	Password string `yaml:"REDIS_PASSWORD" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"REDIS_DB" env:"REDIS_DB" env-default:"0"`
}

type Outbox struct {
	PollInterval time.Duration `yaml:"OUTBOX_POLL_INTERVAL" env:"OUTBOX_POLL_INTERVAL" env-default:"5s"`
	BatchSize    int           `yaml:"OUTBOX_BATCH_SIZE" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	MaxAttempts  int           `yaml:"OUTBOX_MAX_ATTEMPTS" env:"OUTBOX_MAX_ATTEMPTS" env-default:"8"`
}

type Identity struct {
	TokenPath string `yaml:"IDENTITY_TOKEN_PATH" env:"IDENTITY_TOKEN_PATH" env-default:""`
}

type Config struct {
	Env          string `yaml:"env" env:"ENV" env-default:"production"`
	HTTPServer   `yaml:"http_server"`
	RemoteAPI    RemoteAPI    `yaml:"remote_api"`
	Storage      Storage      `yaml:"storage"`
	CacheConfig  CacheConfig  `yaml:"cache"`
	RedisConnect RedisConnect `yaml:"redis"`
	Outbox       Outbox       `yaml:"outbox"`
	Identity     Identity     `yaml:"identity"`
}

func MustLoad() *Config {

	var configPath string

	configPath = os.Getenv("CONFIG_PATH")

	if configPath == "" {

		flags := flag.String("config", "", "gets the config flag value")

		flag.Parse()

		configPath = *flags

		if configPath == "" {

			log.Fatal("Config path is not set")

		}

	}

	cfg, err := LoadConfigFromPath(configPath)

	if err != nil {

		log.Fatalf("can not read config file: %s", err.Error())
	}

	return cfg

}

func LoadConfigFromPath(configPath string) (*Config, error) {

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (r *RedisConnect) GetDSN() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s", r.Username, r.Password, r.Host, r.Port)
}
