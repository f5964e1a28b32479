package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Grid Guardian Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Registry   RegistryConfig   `yaml:"registry"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Timeseries TimeseriesConfig `yaml:"timeseries"`
	Broker     BrokerConfig     `yaml:"broker"`
	Memory     MemoryConfig     `yaml:"memory"`
	Demo       DemoConfig       `yaml:"demo"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// LLMConfig describes the abstract policy-oracle / strategic-agent endpoint.
// These values are passed to whichever llm.Client implementation is
// selected at startup: the HTTP client when BaseURL is set outside demo
// mode, the mock client otherwise.
type LLMConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	StrategicModel   string `yaml:"strategic_model"`
	ZoneModel        string `yaml:"zone_model"`
	GuardianModel    string `yaml:"guardian_model"`
	ContextWindow    int    `yaml:"context_window"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type RegistryConfig struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	SnapshotPath string `yaml:"snapshot_path"`
	RedisAddr    string `yaml:"redis_addr"`
}

type MonitorConfig struct {
	IntervalSec        int  `yaml:"interval_sec"`
	EscalationDeadband int  `yaml:"escalation_deadband"`
	HeartbeatEveryN    int  `yaml:"heartbeat_every_n"`
	ZoneTimeoutSec     int  `yaml:"zone_timeout_sec"`
	EscalationTimeoutS int  `yaml:"escalation_timeout_sec"`
	VaryLoads          bool `yaml:"vary_loads"`
}

type TimeseriesConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type MemoryConfig struct {
	DatabaseURL string `yaml:"database_url"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

type DemoConfig struct {
	Mode bool `yaml:"mode"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading it from CONFIG_PATH (or
// config.yaml) on first access. A missing or unparseable file is not fatal:
// defaults apply and the condition is logged.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file. Unknown keys are ignored by
// yaml.v2's decode-into-struct behavior, matching the "extra keys ignored"
// policy for configuration inputs.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("GRID_ENV", c.Server.Env)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.StrategicModel = getEnv("LLM_STRATEGIC_MODEL", c.LLM.StrategicModel)
	c.LLM.ZoneModel = getEnv("LLM_ZONE_MODEL", c.LLM.ZoneModel)
	c.LLM.GuardianModel = getEnv("LLM_GUARDIAN_MODEL", c.LLM.GuardianModel)
	if v := getEnvInt("LLM_CONTEXT_WINDOW", 0); v > 0 {
		c.LLM.ContextWindow = v
	}
	if v := getEnvInt("LLM_REQUEST_TIMEOUT_MS", 0); v > 0 {
		c.LLM.RequestTimeoutMs = v
	}

	c.Registry.Host = getEnv("REGISTRY_HOST", c.Registry.Host)
	c.Registry.Port = getEnv("REGISTRY_PORT", c.Registry.Port)
	c.Registry.SnapshotPath = getEnv("REGISTRY_SNAPSHOT_PATH", c.Registry.SnapshotPath)
	c.Registry.RedisAddr = getEnv("REGISTRY_REDIS_ADDR", c.Registry.RedisAddr)

	if v := getEnvInt("MONITOR_INTERVAL_SEC", 0); v > 0 {
		c.Monitor.IntervalSec = v
	}
	if v := getEnvInt("MONITOR_ESCALATION_DEADBAND", 0); v > 0 {
		c.Monitor.EscalationDeadband = v
	}
	if v := getEnvInt("MONITOR_HEARTBEAT_EVERY_N", 0); v > 0 {
		c.Monitor.HeartbeatEveryN = v
	}
	if v := getEnvInt("MONITOR_ZONE_TIMEOUT_SEC", 0); v > 0 {
		c.Monitor.ZoneTimeoutSec = v
	}
	if v := getEnvInt("MONITOR_ESCALATION_TIMEOUT_SEC", 0); v > 0 {
		c.Monitor.EscalationTimeoutS = v
	}
	c.Monitor.VaryLoads = getEnvBool("MONITOR_VARY_LOADS", c.Monitor.VaryLoads)

	c.Timeseries.URL = getEnv("TIMESERIES_URL", c.Timeseries.URL)
	c.Timeseries.Token = getEnv("TIMESERIES_TOKEN", c.Timeseries.Token)
	c.Timeseries.Org = getEnv("TIMESERIES_ORG", c.Timeseries.Org)
	c.Timeseries.Bucket = getEnv("TIMESERIES_BUCKET", c.Timeseries.Bucket)

	c.Broker.Host = getEnv("BROKER_HOST", c.Broker.Host)
	c.Broker.Port = getEnv("BROKER_PORT", c.Broker.Port)
	c.Broker.ClientID = getEnv("BROKER_CLIENT_ID", c.Broker.ClientID)

	c.Memory.DatabaseURL = getEnv("DATABASE_URL", c.Memory.DatabaseURL)
	c.Memory.SnapshotDir = getEnv("MEMORY_SNAPSHOT_DIR", c.Memory.SnapshotDir)

	c.Demo.Mode = getEnvBool("DEMO_MODE", c.Demo.Mode)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"http://localhost:3000"}
	}

	if c.LLM.StrategicModel == "" {
		c.LLM.StrategicModel = "strategic-v1"
	}
	if c.LLM.ZoneModel == "" {
		c.LLM.ZoneModel = "zone-v1"
	}
	if c.LLM.GuardianModel == "" {
		c.LLM.GuardianModel = "guardian-v1"
	}
	if c.LLM.ContextWindow == 0 {
		c.LLM.ContextWindow = 8192
	}
	if c.LLM.RequestTimeoutMs == 0 {
		c.LLM.RequestTimeoutMs = 30000
	}

	if c.Registry.Host == "" {
		c.Registry.Host = "0.0.0.0"
	}
	if c.Registry.Port == "" {
		c.Registry.Port = "8080"
	}
	if c.Registry.SnapshotPath == "" {
		c.Registry.SnapshotPath = "registry_snapshot.json"
	}

	if c.Monitor.IntervalSec == 0 {
		c.Monitor.IntervalSec = 5
	}
	if c.Monitor.EscalationDeadband == 0 {
		c.Monitor.EscalationDeadband = 3
	}
	if c.Monitor.HeartbeatEveryN == 0 {
		c.Monitor.HeartbeatEveryN = 6
	}
	if c.Monitor.ZoneTimeoutSec == 0 {
		c.Monitor.ZoneTimeoutSec = 10
	}
	if c.Monitor.EscalationTimeoutS == 0 {
		c.Monitor.EscalationTimeoutS = 300
	}

	if c.Memory.SnapshotDir == "" {
		c.Memory.SnapshotDir = "."
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// Convenience accessors
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetPort() string {
	return c.Server.Port
}
