// Package config loads service settings from the environment, optionally
// overlaid by a YAML file named by PDVD_CONFIG.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ortelius/pdvd-rollup/util"
	"gopkg.in/yaml.v2"
)

// ArangoConfig holds the database connection settings.
type ArangoConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// Endpoint returns the URL to connect to, derived from host and port unless set.
func (a ArangoConfig) Endpoint() string {
	if a.URL != "" {
		return a.URL
	}
	return "http://" + a.Host + ":" + a.Port
}

// KafkaConfig holds the event consumer/producer settings. An empty broker
// list disables Kafka.
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	Topic     string   `yaml:"topic"`
	GroupID   string   `yaml:"group_id"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RollupConfig tunes the metrics rollup engine.
type RollupConfig struct {
	GatherConcurrency int  `yaml:"gather_concurrency"`
	MaxParentDepth    int  `yaml:"max_parent_depth"`
	TransitiveParents bool `yaml:"transitive_parents"`
	SaveRetries       int  `yaml:"save_retries"`
	OSVRecheck        bool `yaml:"osv_recheck"`
}

// SweepConfig configures the periodic jobs.
type SweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	Concurrency int           `yaml:"concurrency"`
	Orgs        []string      `yaml:"orgs"`
}

// Config is the full service configuration.
type Config struct {
	Port   string       `yaml:"port"`
	Arango ArangoConfig `yaml:"arango"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Rollup RollupConfig `yaml:"rollup"`
	Sweep  SweepConfig  `yaml:"sweep"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port: "3000",
		Arango: ArangoConfig{
			Host:     "localhost",
			Port:     "8529",
			User:     "root",
			Pass:     "mypassword",
			Database: "vulnmgt",
		},
		Kafka: KafkaConfig{
			Topic:   "pdvd-artifact-events",
			GroupID: "pdvd-rollup-worker",
		},
		Rollup: RollupConfig{
			GatherConcurrency: 8,
			MaxParentDepth:    16,
			SaveRetries:       5,
		},
		Sweep: SweepConfig{
			Interval:    15 * time.Minute,
			StaleAfter:  24 * time.Hour,
			LockTTL:     10 * time.Minute,
			Concurrency: 4,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// PDVD_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := util.GetEnvDefault("PDVD_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = util.GetEnvDefault("MS_PORT", cfg.Port)

	cfg.Arango.Host = util.GetEnvDefault("ARANGO_HOST", cfg.Arango.Host)
	cfg.Arango.Port = util.GetEnvDefault("ARANGO_PORT", cfg.Arango.Port)
	cfg.Arango.User = util.GetEnvDefault("ARANGO_USER", cfg.Arango.User)
	cfg.Arango.Pass = util.GetEnvDefault("ARANGO_PASS", cfg.Arango.Pass)
	cfg.Arango.URL = util.GetEnvDefault("ARANGO_URL", cfg.Arango.URL)
	cfg.Arango.Database = util.GetEnvDefault("ARANGO_DATABASE", cfg.Arango.Database)

	if brokers := util.SplitList(util.GetEnvDefault("KAFKA_BROKERS", "")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.APIKey = util.GetEnvDefault("KAFKA_API_KEY", cfg.Kafka.APIKey)
	cfg.Kafka.APISecret = util.GetEnvDefault("KAFKA_API_SECRET", cfg.Kafka.APISecret)
	cfg.Kafka.Topic = util.GetEnvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = util.GetEnvDefault("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	cfg.Rollup.GatherConcurrency = util.GetEnvInt("GATHER_CONCURRENCY", cfg.Rollup.GatherConcurrency)
	cfg.Rollup.MaxParentDepth = util.GetEnvInt("MAX_PARENT_DEPTH", cfg.Rollup.MaxParentDepth)
	cfg.Rollup.SaveRetries = util.GetEnvInt("SAVE_RETRIES", cfg.Rollup.SaveRetries)
	cfg.Rollup.TransitiveParents = util.GetEnvDefault("ROLLUP_TRANSITIVE_PARENTS", boolString(cfg.Rollup.TransitiveParents)) == "true"
	cfg.Rollup.OSVRecheck = util.GetEnvDefault("OSV_RECHECK", boolString(cfg.Rollup.OSVRecheck)) == "true"

	cfg.Sweep.Interval = util.GetEnvDuration("SWEEP_INTERVAL", cfg.Sweep.Interval)
	cfg.Sweep.StaleAfter = util.GetEnvDuration("SWEEP_STALE_AFTER", cfg.Sweep.StaleAfter)
	cfg.Sweep.LockTTL = util.GetEnvDuration("LOCK_TTL", cfg.Sweep.LockTTL)
	cfg.Sweep.Concurrency = util.GetEnvInt("SWEEP_CONCURRENCY", cfg.Sweep.Concurrency)
	if orgs := util.SplitList(util.GetEnvDefault("SWEEP_ORGS", "")); len(orgs) > 0 {
		cfg.Sweep.Orgs = orgs
	}
	cfg.Sweep.Orgs = util.NormalizeOrgNames(cfg.Sweep.Orgs)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Rollup.GatherConcurrency < 1 {
		return fmt.Errorf("gather_concurrency must be at least 1, got %d", c.Rollup.GatherConcurrency)
	}
	if c.Rollup.MaxParentDepth < 1 {
		return fmt.Errorf("max_parent_depth must be at least 1, got %d", c.Rollup.MaxParentDepth)
	}
	if c.Rollup.SaveRetries < 0 {
		return fmt.Errorf("save_retries must not be negative, got %d", c.Rollup.SaveRetries)
	}
	if c.Sweep.Interval < 0 || c.Sweep.LockTTL <= 0 {
		return fmt.Errorf("sweep interval must not be negative and lock ttl must be positive")
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("sweep concurrency must be at least 1, got %d", c.Sweep.Concurrency)
	}
	return nil
}
