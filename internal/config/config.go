package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/replyloop/service-codepool/pkg/config"
)

// State store backends.
const (
	StateBackendMemory = "memory"
	StateBackendRedis  = "redis"
)

// MaxStoredCodeLength is the width of the code columns in storage.
const MaxStoredCodeLength = 255

// AssignConfig holds assignment coordinator settings.
type AssignConfig struct {
	DecisionTTL   time.Duration
	MaxCodeLength int
}

// ServiceConfig holds all configuration for the code pool service.
type ServiceConfig struct {
	Port            string
	AppEnv          string
	DBConfig        config.DatabaseConfig
	JWTConfig       config.JWTConfig
	KafkaConfig     config.KafkaConfig
	RedisConfig     config.RedisConfig
	StateBackend    string
	AssignConfig    AssignConfig
	ConsumerEnabled bool
}

// Load reads configuration from environment variables and returns a ServiceConfig.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("codepool")
	if err != nil {
		return nil, err
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	appEnv := config.GetAppEnv(v)

	v.SetDefault("DB_NAME", "codepool")
	if appEnv == "development" || appEnv == "test" {
		v.SetDefault("STATE_BACKEND", StateBackendMemory)
	} else {
		v.SetDefault("STATE_BACKEND", StateBackendRedis)
	}
	v.SetDefault("ASSIGN_DECISION_TTL", 24*time.Hour)
	v.SetDefault("CODES_MAX_LENGTH", 50)
	v.SetDefault("KAFKA_CONSUMER_ENABLED", true)

	backend := v.GetString("STATE_BACKEND")
	if backend != StateBackendMemory && backend != StateBackendRedis {
		return nil, fmt.Errorf("unsupported STATE_BACKEND %q", backend)
	}

	cfg := &ServiceConfig{
		Port:         config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:       appEnv,
		DBConfig:     config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:    config.LoadJWTConfig(v),
		KafkaConfig:  config.LoadKafkaConfig(v),
		RedisConfig:  config.LoadRedisConfig(v),
		StateBackend: backend,
		AssignConfig: AssignConfig{
			DecisionTTL:   v.GetDuration("ASSIGN_DECISION_TTL"),
			MaxCodeLength: v.GetInt("CODES_MAX_LENGTH"),
		},
		ConsumerEnabled: v.GetBool("KAFKA_CONSUMER_ENABLED"),
	}

	if n := cfg.AssignConfig.MaxCodeLength; n < 1 || n > MaxStoredCodeLength {
		return nil, fmt.Errorf("CODES_MAX_LENGTH must be between 1 and %d, got %d", MaxStoredCodeLength, n)
	}
	if cfg.JWTConfig.Secret == "" && cfg.AppEnv != "development" && cfg.AppEnv != "test" {
		return nil, fmt.Errorf("JWT_SECRET is required outside development")
	}
	return cfg, nil
}
