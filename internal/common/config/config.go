// Package config loads RelayConfig from a YAML file, with ${VAR:default}
// environment variable expansion applied before unmarshalling.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/patchline/relay/pkg/helper"
)

type (
	// RelayConfig is the top-level configuration for cmd/relayd.
	RelayConfig struct {
		Server     ServerConfig     `yaml:"server"`
		Logger     LoggerConfig     `yaml:"logger"`
		KV         KVConfig         `yaml:"kv"`
		Leadership LeadershipConfig `yaml:"leadership"`
		Auth       AuthConfig       `yaml:"auth"`
		ICEServers []ICEServer      `yaml:"ice_servers"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		Tracing    TracingConfig    `yaml:"tracing"`
	}

	// ServerConfig configures the HTTP listener.
	ServerConfig struct {
		Port           int    `yaml:"port"`
		InstanceID     string `yaml:"instance_id"`      // falls back to RELAY_INSTANCE_ID, then a random id
		ShortClientIDs bool   `yaml:"short_client_ids"` // legacy <type>-<8 hex> ids instead of a full UUID suffix
	}

	// LoggerConfig represents the logger configuration.
	LoggerConfig struct {
		Level       string `yaml:"level"`        // debug, info, warn, error
		Format      string `yaml:"format"`       // json, console
		Output      string `yaml:"output"`       // stdout, file
		FilePath    string `yaml:"file_path"`    // path to log file when output is file
		MaxSize     int    `yaml:"max_size"`     // max size of log file in MB
		MaxBackups  int    `yaml:"max_backups"`  // max number of backup files
		MaxAge      int    `yaml:"max_age"`      // max age of backup files in days
		Compress    bool   `yaml:"compress"`     // whether to compress backup files
		Color       bool   `yaml:"color"`        // whether to use color in console output
		Stacktrace  bool   `yaml:"stacktrace"`   // whether to include stacktrace in error logs
		TimeZone    string `yaml:"time_zone"`    // time zone for log timestamps, default is local
		TimeFormat  string `yaml:"time_format"`  // time format for log timestamps
		ServiceName string `yaml:"service_name"` // stamped onto every record as "service"; unset omits the field
	}

	// KVConfig selects and configures the shared KV backend (spec 4.A).
	KVConfig struct {
		Backend       string        `yaml:"backend"` // "memory" or "redis"
		Redis         RedisConfig   `yaml:"redis"`
		SweepInterval time.Duration `yaml:"sweep_interval"` // memory backend TTL sweep period
	}

	// RedisConfig addresses a Redis instance, shared by the KV backend and
	// the leadership hint Pub/Sub channel.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	}

	// LeadershipConfig configures the controller election poller and its
	// optional Redis Pub/Sub fast-path hint (spec 4.D).
	LeadershipConfig struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		Hint         HintConfig    `yaml:"hint"`
	}

	// HintConfig enables the Pub/Sub notification hint that lets a Poller
	// react to leadership changes between its regular polling ticks.
	HintConfig struct {
		Enabled bool        `yaml:"enabled"`
		Redis   RedisConfig `yaml:"redis"`
	}

	// AuthConfig configures the bearer token service protecting
	// /controller/lock and /controller/clear.
	AuthConfig struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		TokenTTL   time.Duration `yaml:"token_ttl"`
		AdminToken string        `yaml:"admin_token"` // required by ?admin_mode=true on /controller/clear
	}

	// ICEServer is one entry of the response to GET /ice-servers.
	ICEServer struct {
		URLs       []string `yaml:"urls" json:"urls"`
		Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
	}

	// MetricsConfig configures the Prometheus registry in pkg/metrics.
	MetricsConfig struct {
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig configures the OTLP/gRPC tracer in pkg/trace.
	TracingConfig struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		Endpoint    string  `yaml:"endpoint"`
		Insecure    bool    `yaml:"insecure"`
		SamplerRate float64 `yaml:"sampler_rate"`
		Environment string  `yaml:"environment"`
	}
)

// LoadConfig loads a RelayConfig from a YAML file with environment variable
// expansion. filename is resolved through helper.GetCfgPath.
func LoadConfig(filename string) (*RelayConfig, string, error) {
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	data = resolveEnv(data)
	var cfg RelayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	applyDefaults(&cfg)
	return &cfg, cfgPath, nil
}

func applyDefaults(cfg *RelayConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.KV.Backend == "" {
		cfg.KV.Backend = "memory"
	}
	if cfg.KV.SweepInterval <= 0 {
		cfg.KV.SweepInterval = 30 * time.Second
	}
	if cfg.Leadership.PollInterval <= 0 {
		cfg.Leadership.PollInterval = time.Second
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "relay"
	}
	if len(cfg.Metrics.Buckets) == 0 {
		cfg.Metrics.Buckets = prometheus.DefBuckets
	}
}

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders in YAML content.
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
