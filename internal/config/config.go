// Package config предоставялет структуры и функции для парсинга и загрузки конфига бота.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"
	// База часовых поясов для образов без tzdata.
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы постоянного хранилища.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env             string          `yaml:"env" env:"ENV" env-default:"local"`
	Bot             Bot             `yaml:"bot"`
	Limits          Limits          `yaml:"limits"`
	Cache           Cache           `yaml:"cache"`
	Scheduler       Scheduler       `yaml:"scheduler"`
	Storage         Storage         `yaml:"storage"`
	RedisConnection RedisConnection `yaml:"redis_connection"`
	ObjectStorage   ObjectStorage   `yaml:"object_storage"`
	Extractor       Extractor       `yaml:"extractor"`
	Transfer        Transfer        `yaml:"transfer"`
	RabbitMQ        RabbitMQ        `yaml:"rabbitmq"`
	HTTPServer      HTTPServer      `yaml:"http_server"`
	JWTToken        JWTToken        `yaml:"jwttoken"`
	Admin           Admin           `yaml:"admin"`
	Plans           map[string]int  `yaml:"plans"`
}

// Bot настройки подключения к чат-платформе.
type Bot struct {
	Token        string        `yaml:"token" env:"BOT_TOKEN"`
	APIURL       string        `yaml:"api_url" env-default:"https://api.telegram.org"`
	AdminIDs     []int64       `yaml:"admin_ids"`
	PollTimeout  time.Duration `yaml:"poll_timeout" env-default:"30s"`
	ContactText  string        `yaml:"contact" env-default:"Contact admin: @youradminhandle"`
	MessageRate  float64       `yaml:"message_rate" env-default:"1"`
	MessageBurst int           `yaml:"message_burst" env-default:"5"`
	// BroadcastRate сообщений в секунду при рассылке, 0 снимает ограничение.
	BroadcastRate float64 `yaml:"broadcast_rate" env-default:"25"`
}

// Limits ограничения загрузок.
type Limits struct {
	MaxConcurrentDownloads int     `yaml:"max_concurrent_downloads" env-default:"20"`
	FreeDailyLimit         int     `yaml:"free_daily_limit" env-default:"5"`
	MaxVideoSizeMB         float64 `yaml:"max_video_size_mb" env-default:"50"`
	// RelaxedQuota возвращает исходное поведение: проверка квоты и инкремент
	// не атомарны, параллельные загрузки одного пользователя могут превысить лимит.
	RelaxedQuota bool `yaml:"relaxed_quota"`
	// ResetOnRedeem отсчитывает новый срок от текущего момента вместо продления.
	ResetOnRedeem bool `yaml:"reset_on_redeem"`
}

// Cache настройки слоя кеширования.
type Cache struct {
	TTL              time.Duration `yaml:"ttl" env-default:"5m"`
	MinFlushInterval time.Duration `yaml:"min_flush_interval" env-default:"2s"`
	FlushTick        time.Duration `yaml:"flush_tick" env-default:"1s"`
}

// Scheduler настройки фоновых задач.
type Scheduler struct {
	ResetTimezone string `yaml:"reset_timezone" env-default:"UTC"`
}

// Storage настройки постоянного хранилища.
type Storage struct {
	Driver           string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file"`
	Path             string `yaml:"path" env-default:"data/store.json"`
	Compress         bool   `yaml:"compress"`
	ConnectionString string `yaml:"connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath   string `yaml:"migrations_path" env-default:"./migrations"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	Prefix       string        `yaml:"prefix" env-default:"terabox"`
}

// ObjectStorage настройки S3-совместимого хранилища снимков.
type ObjectStorage struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	Bucket          string `yaml:"bucket" env-default:"terabox-bot"`
	Object          string `yaml:"object" env-default:"snapshot.json"`
	Region          string `yaml:"region" env-default:"us-east-1"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// Extractor настройки внешнего сервиса извлечения ссылок.
type Extractor struct {
	URLTemplate string        `yaml:"url_template" env:"EXTRACTOR_URL"`
	Timeout     time.Duration `yaml:"timeout" env-default:"30s"`
}

// Transfer настройки скачивания и отправки файла.
type Transfer struct {
	DownloadDir string        `yaml:"download_dir" env-default:"downloads"`
	Timeout     time.Duration `yaml:"timeout" env-default:"10m"`
}

// RabbitMQ настройки очереди рассылок. Пустой URL отключает очередь.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// HTTPServer структура для настройки административного сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   int           `yaml:"rate_limit" env-default:"60"`
}

// JWTToken структура для работы с jwt-токеном.
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"1h"`
}

// Admin учётные данные администратора для HTTP API.
type Admin struct {
	Username     string `yaml:"username" env-default:"admin"`
	PasswordHash string `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"`
}

// DefaultPlans планы подписки в днях.
var DefaultPlans = map[string]int{
	"daily":   1,
	"monthly": 30,
	"yearly":  365,
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла, применяет переменные окружения и значения по умолчанию.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = make(map[string]int, len(DefaultPlans))
		for name, days := range DefaultPlans {
			cfg.Plans[name] = days
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.MaxConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("limits.max_concurrent_downloads must be positive"))
	}
	if c.Limits.FreeDailyLimit < 0 {
		errs = append(errs, errors.New("limits.free_daily_limit must not be negative"))
	}
	if c.Limits.MaxVideoSizeMB <= 0 {
		errs = append(errs, errors.New("limits.max_video_size_mb must be positive"))
	}
	if c.Cache.FlushTick <= 0 || c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.flush_tick and cache.ttl must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.ResetTimezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.reset_timezone: %w", err))
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite, DriverPostgres, DriverRedis, DriverS3:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	for name, days := range c.Plans {
		if days <= 0 {
			errs = append(errs, fmt.Errorf("plans.%s: duration must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс, по которому считается граница суток.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.ResetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PlanDays возвращает длительность плана в днях.
func (c *Config) PlanDays(plan string) (int, bool) {
	days, ok := c.Plans[plan]
	return days, ok
}

// IsAdmin сообщает, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Bot.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
