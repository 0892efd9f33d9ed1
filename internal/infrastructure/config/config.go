package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning modes accepted in tuning.mode.
const (
	TuningModeNone = "none"
	TuningModeODNT = "odnt"
)

// defaultLogFileName is the rolling log created inside the miner directory.
const defaultLogFileName = "bzminer_controller.log"

// Config is the root configuration structure for minerctl.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Miner      MinerConfig      `yaml:"miner"`
	Tuning     TuningConfig     `yaml:"tuning"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// resolved is set once Resolve has turned every path absolute.
	resolved bool
}

// MinerConfig describes the supervised mining worker.
type MinerConfig struct {
	// Dir is the miner installation directory, also used as working directory.
	Dir string `yaml:"dir"`

	// Exe is the executable name inside Dir (or an absolute path).
	Exe string `yaml:"exe"`

	Algo         string   `yaml:"algo"`
	WalletWorker string   `yaml:"wallet_worker"`
	Pool         string   `yaml:"pool"`
	ExtraArgs    []string `yaml:"extra_args"`

	// WebPort is the miner's own dashboard port. minerctl only advertises it.
	WebPort int `yaml:"web_port"`

	// LogFile is the rolling log of captured miner output.
	// Default: <dir>/bzminer_controller.log
	LogFile string `yaml:"log_file"`

	// LogMaxSize rotates the rolling log at this many megabytes. 0 disables rotation.
	LogMaxSize    int `yaml:"log_max_size"`
	LogMaxBackups int `yaml:"log_max_backups"`
}

// TuningConfig contains settings for the external GPU tuning tool.
type TuningConfig struct {
	// Mode is "none" or "odnt".
	Mode string `yaml:"mode"`

	// ToolPath is the path to OverdriveNTool (or a compatible tool).
	ToolPath string `yaml:"tool_path"`

	ProfileActive string `yaml:"profile_active"`
	ProfileIdle   string `yaml:"profile_idle"`
	GPUIndex      int    `yaml:"gpu_index"`

	// PreSpawnDelay is the pause between applying the active profile and spawning the miner.
	PreSpawnDelay time.Duration `yaml:"pre_spawn_delay"`

	// ReapplyDelay schedules a second application of the active profile after start.
	// 0 disables the re-apply.
	ReapplyDelay time.Duration `yaml:"reapply_delay"`

	// Timeout bounds a single tool invocation.
	Timeout time.Duration `yaml:"timeout"`

	// Elevate relaunches minerctl through sudo when tuning needs root and we lack it.
	Elevate bool `yaml:"elevate"`
}

// AlertsConfig toggles block-found presentation in the CLI.
type AlertsConfig struct {
	BlockSound bool `yaml:"block_sound"`
	BlockPopup bool `yaml:"block_popup"`
}

// SupervisorConfig contains timing knobs for the process supervisor.
type SupervisorConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	ReadBackoff      time.Duration `yaml:"read_backoff"`
	StopGrace        time.Duration `yaml:"stop_grace"`
	FailureMarker    string        `yaml:"failure_marker"`
	TailBytes        int64         `yaml:"tail_bytes"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention prunes closed runs and tuning results older than this on
	// startup. Blocks are kept forever. 0 disables pruning.
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig lists the browser origins allowed to call the API.
// An empty list disables cross-origin access; "*" allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves the control API unauthenticated.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// MetricsConfig toggles the Prometheus endpoint on the API listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Validation
//  5. Path resolution relative to the config file's directory
//
// Environment variables follow the pattern: MINERCTL_SECTION_KEY
// For example: MINERCTL_MINER_DIR, MINERCTL_TUNING_MODE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded, validated and resolved configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	if err := cfg.Resolve(base); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration resolved against baseDir.
// Used when no config file exists yet.
func Default(baseDir string) (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.Resolve(baseDir); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Miner: MinerConfig{
			Dir:          "bzminer",
			Exe:          "bzminer",
			Algo:         "kaspa",
			WalletWorker: "kaspa:your_wallet.worker",
			Pool:         "stratum+tcp://us2.kaspa.herominers.com:1209",
			WebPort:      4014,
		},
		Tuning: TuningConfig{
			Mode:          TuningModeNone,
			ToolPath:      "OverdriveNTool.exe",
			ProfileActive: "Kaspa",
			ProfileIdle:   "Default",
			GPUIndex:      0,
			PreSpawnDelay: time.Second,
			ReapplyDelay:  5 * time.Second,
			Timeout:       30 * time.Second,
		},
		Alerts: AlertsConfig{
			BlockSound: true,
			BlockPopup: true,
		},
		Supervisor: SupervisorConfig{
			SnapshotInterval: 2 * time.Second,
			ReadBackoff:      50 * time.Millisecond,
			StopGrace:        500 * time.Millisecond,
			FailureMarker:    "cuda not found",
			TailBytes:        64 * 1024,
		},
		Database: DatabaseConfig{
			Path:        "./data/minerctl.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   90 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "minerctl",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    4015,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MINERCTL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Miner
	if v := os.Getenv("MINERCTL_MINER_DIR"); v != "" {
		cfg.Miner.Dir = v
	}
	if v := os.Getenv("MINERCTL_MINER_WALLET_WORKER"); v != "" {
		cfg.Miner.WalletWorker = v
	}
	if v := os.Getenv("MINERCTL_MINER_POOL"); v != "" {
		cfg.Miner.Pool = v
	}

	// Tuning
	if v := os.Getenv("MINERCTL_TUNING_MODE"); v != "" {
		cfg.Tuning.Mode = v
	}
	if v := os.Getenv("MINERCTL_TUNING_TOOL_PATH"); v != "" {
		cfg.Tuning.ToolPath = v
	}
	if v := os.Getenv("MINERCTL_TUNING_GPU_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tuning.GPUIndex = n
		}
	}

	// MQTT
	if v := os.Getenv("MINERCTL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MINERCTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MINERCTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MINERCTL_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MINERCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("MINERCTL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Miner.Dir == "" {
		errs = append(errs, "miner.dir is required")
	}
	if c.Miner.Exe == "" {
		errs = append(errs, "miner.exe is required")
	}
	if c.Miner.WebPort < 1 || c.Miner.WebPort > 65535 {
		errs = append(errs, "miner.web_port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Tuning.Mode) {
	case TuningModeNone:
	case TuningModeODNT, "external-tool":
		if c.Tuning.ToolPath == "" {
			errs = append(errs, "tuning.tool_path is required when tuning.mode is odnt")
		}
	default:
		errs = append(errs, fmt.Sprintf("tuning.mode %q must be none or odnt", c.Tuning.Mode))
	}
	if c.Tuning.GPUIndex < 0 {
		errs = append(errs, "tuning.gpu_index must not be negative")
	}
	if c.Tuning.ProfileActive == "" || c.Tuning.ProfileIdle == "" {
		errs = append(errs, "tuning.profile_active and tuning.profile_idle are required")
	}
	if c.Tuning.ReapplyDelay < 0 || c.Tuning.PreSpawnDelay < 0 {
		errs = append(errs, "tuning delays must not be negative")
	}

	if c.Supervisor.SnapshotInterval <= 0 {
		errs = append(errs, "supervisor.snapshot_interval must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Resolve turns every configured path into an absolute path, relative to baseDir.
// It runs once; consumers never re-resolve.
func (c *Config) Resolve(baseDir string) error {
	if c.resolved {
		return nil
	}

	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Abs(filepath.Join(baseDir, p))
	}

	var err error
	if c.Miner.Dir, err = abs(c.Miner.Dir); err != nil {
		return err
	}
	if c.Miner.LogFile == "" {
		c.Miner.LogFile = filepath.Join(c.Miner.Dir, defaultLogFileName)
	} else if c.Miner.LogFile, err = abs(c.Miner.LogFile); err != nil {
		return err
	}
	if c.Tuning.ToolPath, err = abs(c.Tuning.ToolPath); err != nil {
		return err
	}
	if c.Database.Path, err = abs(c.Database.Path); err != nil {
		return err
	}
	if c.Logging.File.Path, err = abs(c.Logging.File.Path); err != nil {
		return err
	}

	c.resolved = true
	return nil
}

// MinerPath returns the absolute path of the miner executable.
func (c *Config) MinerPath() string {
	if filepath.IsAbs(c.Miner.Exe) {
		return c.Miner.Exe
	}
	return filepath.Join(c.Miner.Dir, c.Miner.Exe)
}

// MinerArgs returns the launch arguments for the miner.
func (c *Config) MinerArgs() []string {
	args := []string{"-a", c.Miner.Algo, "-w", c.Miner.WalletWorker, "-p", c.Miner.Pool}
	return append(args, c.Miner.ExtraArgs...)
}

// Rig returns the name identifying this machine in MQTT topics, InfluxDB
// tags and Prometheus labels: the MQTT client ID, else the hostname.
func (c *Config) Rig() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "minerctl"
}

// GetBusyTimeout returns the database busy timeout as a Duration.
func (c *Config) GetBusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeout) * time.Second
}

// WebURL returns the URL of the miner's own dashboard.
func (c *Config) WebURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Miner.WebPort)
}

// TuningEnabled reports whether an external tuning tool is configured.
func (c *Config) TuningEnabled() bool {
	m := strings.ToLower(c.Tuning.Mode)
	return m == TuningModeODNT || m == "external-tool"
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
