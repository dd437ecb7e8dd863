package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EventsNone     = "none"
	EventsKafka    = "kafka"
	EventsRabbitMQ = "rabbitmq"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	EventsBackend       string
	KafkaBrokers        []string
	KafkaLocationTopic  string
	KafkaRideEventTopic string
	AMQPURL             string
	AMQPExchange        string

	JWTSecret string

	PricePerMeter       float64
	FeedPollInterval    time.Duration
	LocationMinDistance float64
	LocationMinInterval time.Duration

	DefaultSpeedMps float64
	MatcherTopN     int
	OSRMURL         string
	ETACacheTTL     time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisGeoKey:         "drivers_geo",
		EventsBackend:       EventsNone,
		KafkaLocationTopic:  "driver-locations",
		KafkaRideEventTopic: "ride-events",
		AMQPExchange:        "rides",
		PricePerMeter:       2,
		FeedPollInterval:    30 * time.Second,
		LocationMinDistance: 10,
		LocationMinInterval: 5 * time.Second,
		DefaultSpeedMps:     10,
		MatcherTopN:         20,
		ETACacheTTL:         30 * time.Second,
		LogLevel:            "info",
	}
}

// LoadServerConfig reads a .env file when one exists and then the process
// environment. All parse errors are reported together.
func LoadServerConfig() (ServerConfig, error) {
	loadDotEnv()
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if v := os.Getenv("EVENTS_BACKEND"); v != "" {
		cfg.EventsBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaRideEventTopic, "KAFKA_RIDE_EVENTS_TOPIC")
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	setFloatFromEnv(&cfg.PricePerMeter, "PRICE_PER_METER", &errs)
	setDurationFromEnv(&cfg.FeedPollInterval, "FEED_POLL_INTERVAL", &errs)
	setFloatFromEnv(&cfg.LocationMinDistance, "LOCATION_MIN_DISTANCE_M", &errs)
	setDurationFromEnv(&cfg.LocationMinInterval, "LOCATION_MIN_INTERVAL", &errs)

	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.MatcherTopN, "MATCHER_TOP_N", &errs)
	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.PricePerMeter <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_PER_METER must be > 0"))
	}
	if cfg.FeedPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("FEED_POLL_INTERVAL must be > 0"))
	}
	if cfg.MatcherTopN < 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be >= 0"))
	}
	switch cfg.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("EVENTS_BACKEND=kafka requires KAFKA_BROKERS"))
		}
	case EventsRabbitMQ:
		if cfg.AMQPURL == "" {
			errs = append(errs, errors.New("EVENTS_BACKEND=rabbitmq requires AMQP_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", cfg.EventsBackend))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the location consumer that feeds the geo index.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	loadDotEnv()
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-locations",
		KafkaGroup:   "ride-hailing-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, errors.New("KAFKA_BROKERS is empty")
	}
	return cfg, nil
}

// loadDotEnv never overrides variables already set in the environment.
func loadDotEnv() {
	_ = godotenv.Load()
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
