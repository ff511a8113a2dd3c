package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Rabbit struct {
		URL   string `envconfig:"RABBIT_URL"`
		Queue string `envconfig:"RABBIT_RUN_QUEUE" default:"pipeline_runs"`
	} `envconfig:""`

	Pipeline struct {
		MaxPostsPerUser int           `envconfig:"PIPELINE_MAX_POSTS" default:"5"`
		SendDelay       time.Duration `envconfig:"PIPELINE_SEND_DELAY" default:"1s"`
		EnableGrouping  bool          `envconfig:"PIPELINE_ENABLE_GROUPING" default:"true"`
		RunLockTTL      time.Duration `envconfig:"PIPELINE_RUN_LOCK_TTL" default:"30m"`
	} `envconfig:""`

	Schedule struct {
		Cron string `envconfig:"RECAP_CRON" default:"0 9 * * *"`
	} `envconfig:""`

	Queues struct {
		Run string `envconfig:"RUN_QUEUE_KEY" default:"pipeline_runs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
