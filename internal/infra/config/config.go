package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Digest struct {
		// Window — минимальный интервал между двумя рассылками.
		Window time.Duration `envconfig:"DIGEST_WINDOW" default:"168h"`
		// Timeout ограничивает весь цикл по стенным часам.
		Timeout time.Duration `envconfig:"DIGEST_TIMEOUT" default:"2m"`
		Subject string        `envconfig:"DIGEST_SUBJECT" default:"Дайджест сообщества"`
		// TriggerTTL — срок redis-замка от сдвоенных триггеров.
		TriggerTTL time.Duration `envconfig:"DIGEST_TRIGGER_TTL" default:"5m"`
	} `envconfig:""`

	Scheduler struct {
		Interval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
	} `envconfig:""`

	Activity struct {
		// WorkItemsCap ограничивает списки проектов и задач в дайджесте.
		WorkItemsCap int `envconfig:"ACTIVITY_WORK_ITEMS_CAP" default:"10"`
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
