// Package config loads service settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the service reads at startup.
type Config struct {
	StorageConnectionString string
	TasksTable              string
	AuditQueue              string
	StoreTimeout            time.Duration

	RedisConnectionString string
	CacheTTL              time.Duration

	Auth0Domain   string
	Auth0Audience string
	AuthTestMode  bool
	TestJWTSecret string

	AuditWorkers        int
	AuditBuffer         int
	AuditEnqueueTimeout time.Duration
	AuditHandoffTimeout time.Duration

	ConflictRetries int
	MaxBodyBytes    int64
	ListenAddr      string
	Debug           bool
	LogLevel        string
	LogFormat       string
}

// env binds config keys to the variable names the hosting environment sets.
var env = map[string]string{
	"storage.connection_string": "STORAGE_CONNECTION_STRING",
	"storage.tasks_table":       "TASKS_TABLE",
	"storage.audit_queue":       "AUDIT_QUEUE",
	"storage.timeout":           "STORE_TIMEOUT",
	"redis.connection_string":   "REDIS_CONNECTION_STRING",
	"cache.ttl":                 "TASK_CACHE_TTL",
	"auth.domain":               "AUTH0_DOMAIN",
	"auth.audience":             "AUTH0_AUDIENCE",
	"auth.test_mode":            "AUTH0_TEST_MODE",
	"auth.test_secret":          "TEST_JWT_SECRET",
	"audit.workers":             "AUDIT_WORKERS",
	"audit.buffer":              "AUDIT_BUFFER",
	"audit.enqueue_timeout":     "AUDIT_ENQUEUE_TIMEOUT",
	"audit.handoff_timeout":     "AUDIT_HANDOFF_TIMEOUT",
	"update.conflict_retries":   "UPDATE_CONFLICT_RETRIES",
	"server.max_body_bytes":     "MAX_BODY_BYTES",
	"server.port":               "FUNCTIONS_CUSTOMHANDLER_PORT",
	"debug":                     "DEBUG",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.tasks_table", "Tasks")
	v.SetDefault("storage.audit_queue", "task-audit")
	v.SetDefault("storage.timeout", 5*time.Second)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("auth.test_mode", false)
	v.SetDefault("audit.workers", 4)
	v.SetDefault("audit.buffer", 256)
	v.SetDefault("audit.enqueue_timeout", 10*time.Second)
	v.SetDefault("audit.handoff_timeout", 15*time.Millisecond)
	v.SetDefault("update.conflict_retries", 3)
	v.SetDefault("server.max_body_bytes", 64<<10)
	v.SetDefault("server.port", "8080")
	v.SetDefault("debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. file may be empty; when set it must exist.
func Load(file string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return Config{}, err
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", file, err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		StorageConnectionString: v.GetString("storage.connection_string"),
		TasksTable:              v.GetString("storage.tasks_table"),
		AuditQueue:              v.GetString("storage.audit_queue"),
		StoreTimeout:            v.GetDuration("storage.timeout"),
		RedisConnectionString:   v.GetString("redis.connection_string"),
		CacheTTL:                v.GetDuration("cache.ttl"),
		Auth0Domain:             v.GetString("auth.domain"),
		Auth0Audience:           v.GetString("auth.audience"),
		AuthTestMode:            v.GetBool("auth.test_mode"),
		TestJWTSecret:           v.GetString("auth.test_secret"),
		AuditWorkers:            v.GetInt("audit.workers"),
		AuditBuffer:             v.GetInt("audit.buffer"),
		AuditEnqueueTimeout:     v.GetDuration("audit.enqueue_timeout"),
		AuditHandoffTimeout:     v.GetDuration("audit.handoff_timeout"),
		ConflictRetries:         v.GetInt("update.conflict_retries"),
		MaxBodyBytes:            v.GetInt64("server.max_body_bytes"),
		ListenAddr:              ":" + strings.TrimPrefix(v.GetString("server.port"), ":"),
		Debug:                   v.GetBool("debug"),
		LogLevel:                strings.ToLower(v.GetString("log.level")),
		LogFormat:               strings.ToLower(v.GetString("log.format")),
	}
}

// ValidateStorage reports missing settings needed to reach the store.
func (c Config) ValidateStorage() error {
	var errs []error
	if c.StorageConnectionString == "" {
		errs = append(errs, errors.New("missing STORAGE_CONNECTION_STRING"))
	}
	if c.TasksTable == "" {
		errs = append(errs, errors.New("missing TASKS_TABLE"))
	}
	if c.AuditQueue == "" {
		errs = append(errs, errors.New("missing AUDIT_QUEUE"))
	}
	return errors.Join(errs...)
}

// Validate reports every missing or out-of-range setting needed to serve.
func (c Config) Validate() error {
	errs := []error{c.ValidateStorage()}
	if c.AuthTestMode {
		if c.TestJWTSecret == "" {
			errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
		}
	} else if c.Auth0Domain == "" || c.Auth0Audience == "" {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache ttl must not be negative"))
	}
	if c.AuditWorkers <= 0 || c.AuditBuffer < 0 {
		errs = append(errs, errors.New("invalid audit pool size"))
	}
	if c.ConflictRetries < 0 {
		errs = append(errs, errors.New("conflict retries must not be negative"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body size must be positive"))
	}
	return errors.Join(errs...)
}
