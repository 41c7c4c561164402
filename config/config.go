// Package config loads server settings: built-in defaults, then an optional
// INI file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"klymo_server/models"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Store backends for the waiting pool and rate limiter.
const (
	BackendDynamo = "dynamo"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds runtime settings for the matchmaking server.
type Config struct {
	Port     string
	LogLevel string

	// Backend selects where the waiting pool and limit counters live.
	Backend string

	AWSRegion      string
	DynamoEndpoint string // optional override, e.g. DynamoDB Local

	WaitingPoolTable   string
	UsageCountersTable string
	CooldownsTable     string
	ProfilesTable      string
	ReportsTable       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VerificationURL     string
	VerificationTimeout time.Duration

	DailyMatchLimit   int
	Cooldown          time.Duration
	PeekLimit         int
	ClaimLease        time.Duration
	RematchInterval   time.Duration
	MaxRequeueAttempt int
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Port = "8080"
	c.LogLevel = "info"
	c.Backend = BackendDynamo
	c.AWSRegion = "us-east-1"
	c.WaitingPoolTable = models.WaitingPoolTable
	c.UsageCountersTable = models.UsageCountersTable
	c.CooldownsTable = models.CooldownsTable
	c.ProfilesTable = models.ProfilesTable
	c.ReportsTable = models.ReportsTable
	c.RedisAddr = "localhost:6379"
	c.VerificationURL = "http://localhost:8000"
	c.VerificationTimeout = 60 * time.Second
	c.DailyMatchLimit = 50
	c.Cooldown = 30 * time.Second
	c.PeekLimit = 20
	c.ClaimLease = 10 * time.Second
	c.RematchInterval = 5 * time.Second
	c.MaxRequeueAttempt = 3
}

// Load builds a Config from defaults, the INI file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		file, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
		}
		if err := cfg.applyINI(file); err != nil {
			return nil, err
		}
		log.WithField("config", path).Debug("Loaded configuration file")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDynamo, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if c.DailyMatchLimit <= 0 {
		return fmt.Errorf("daily match limit must be positive, got %d", c.DailyMatchLimit)
	}
	if c.PeekLimit <= 0 {
		return fmt.Errorf("peek limit must be positive, got %d", c.PeekLimit)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	if c.ClaimLease <= 0 {
		return fmt.Errorf("claim lease must be positive, got %s", c.ClaimLease)
	}
	return nil
}

func (c *Config) applyINI(file *ini.File) error {
	server := file.Section("server")
	c.Port = server.Key("port").MustString(c.Port)
	c.LogLevel = server.Key("log_level").MustString(c.LogLevel)
	c.Backend = server.Key("backend").MustString(c.Backend)

	aws := file.Section("aws")
	c.AWSRegion = aws.Key("region").MustString(c.AWSRegion)
	c.DynamoEndpoint = aws.Key("dynamodb_endpoint").MustString(c.DynamoEndpoint)
	c.WaitingPoolTable = aws.Key("waiting_pool_table").MustString(c.WaitingPoolTable)
	c.UsageCountersTable = aws.Key("usage_counters_table").MustString(c.UsageCountersTable)
	c.CooldownsTable = aws.Key("cooldowns_table").MustString(c.CooldownsTable)
	c.ProfilesTable = aws.Key("profiles_table").MustString(c.ProfilesTable)
	c.ReportsTable = aws.Key("reports_table").MustString(c.ReportsTable)

	redis := file.Section("redis")
	c.RedisAddr = redis.Key("addr").MustString(c.RedisAddr)
	c.RedisPassword = redis.Key("password").MustString(c.RedisPassword)
	c.RedisDB = redis.Key("db").MustInt(c.RedisDB)

	verification := file.Section("verification")
	c.VerificationURL = verification.Key("url").MustString(c.VerificationURL)
	c.VerificationTimeout = verification.Key("timeout").MustDuration(c.VerificationTimeout)

	matching := file.Section("matching")
	c.DailyMatchLimit = matching.Key("daily_limit").MustInt(c.DailyMatchLimit)
	c.Cooldown = matching.Key("cooldown").MustDuration(c.Cooldown)
	c.PeekLimit = matching.Key("peek_limit").MustInt(c.PeekLimit)
	c.ClaimLease = matching.Key("claim_lease").MustDuration(c.ClaimLease)
	c.RematchInterval = matching.Key("rematch_interval").MustDuration(c.RematchInterval)
	c.MaxRequeueAttempt = matching.Key("max_requeue_attempts").MustInt(c.MaxRequeueAttempt)
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Backend, "STORE_BACKEND")
	setString(&c.AWSRegion, "AWS_REGION")
	setString(&c.DynamoEndpoint, "DYNAMODB_ENDPOINT")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.VerificationURL, "FASTAPI_URL")

	if err := setInt(&c.RedisDB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setInt(&c.DailyMatchLimit, "DAILY_MATCH_LIMIT"); err != nil {
		return err
	}
	if err := setInt(&c.PeekLimit, "PEEK_LIMIT"); err != nil {
		return err
	}
	if err := setDuration(&c.Cooldown, "COOLDOWN"); err != nil {
		return err
	}
	if err := setDuration(&c.RematchInterval, "REMATCH_INTERVAL"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}
