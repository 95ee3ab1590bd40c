package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ServerType selects the connection-handling strategy. Only "multiplexing"
// is implemented by this module; "blocking" is accepted on the CLI for
// compatibility with the source's configuration surface but has no engine
// behind it here (spec.md §1 scope).
type ServerType string

const (
	ServerTypeMultiplexing ServerType = "multiplexing"
	ServerTypeBlocking     ServerType = "blocking"
)

// Config holds all server configuration, immutable once Run starts.
type Config struct {
	Host       string     `yaml:"host"`
	Port       int        `yaml:"port"`
	ServerType ServerType `yaml:"server_type"`

	MaxReadBufferBytes  int `yaml:"max_read_buffer_bytes"`
	MaxWriteBufferBytes int `yaml:"max_write_buffer_bytes"`

	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	PollBatchSize      int `yaml:"poll_batch_size"`
	WorkerPoolSize     int `yaml:"worker_pool_size"`
	AcceptBacklog      int `yaml:"accept_backlog"`
	MaxConnections     int `yaml:"max_connections"`
	ConnectionPoolCap  int `yaml:"connection_pool_cap"`

	EnableWriteReadinessToggle bool `yaml:"enable_write_readiness_toggle"`

	// CompatStatus200OnProcessValidationError preserves the source
	// implementation's behavior of answering validation failures on
	// /process with 200 instead of 400 (spec.md §9 Open Questions). Off by
	// default: new deployments get 400.
	CompatStatus200OnProcessValidationError bool `yaml:"compat_status_200_on_process_validation_error"`

	LogLevel  string `yaml:"log_level"`
	LogOutput string `yaml:"log_output"`
	LogDir    string `yaml:"log_dir"`

	Env string `yaml:"env"`
}

// Default returns a Config populated with the defaults spec.md §3 names.
func Default() *Config {
	return &Config{
		Host:       "0.0.0.0",
		Port:       8080,
		ServerType: ServerTypeMultiplexing,

		MaxReadBufferBytes:  65536,
		MaxWriteBufferBytes: 65536,

		IdleTimeoutSeconds: 60,
		PollBatchSize:      512,
		WorkerPoolSize:     workerPoolDefault(),
		AcceptBacklog:      1024,
		MaxConnections:     10000,
		ConnectionPoolCap:  100,

		EnableWriteReadinessToggle: true,

		LogLevel:  "info",
		LogOutput: "stdout",
		LogDir:    "./logs",

		Env: "development",
	}
}

// New loads configuration the way the source does it: flags first, layered
// over an optional YAML file passed via -config. Flags always win over the
// file, matching the source's flag-first posture.
func New() (*Config, error) {
	cfg := Default()

	var configPath string
	var workers int
	var serverType string

	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.StringVar(&serverType, "server.type", "", "server type (blocking|multiplexing)")
	flag.IntVar(&cfg.MaxReadBufferBytes, "max-read-buffer-bytes", cfg.MaxReadBufferBytes, "per-connection read buffer cap")
	flag.IntVar(&cfg.MaxWriteBufferBytes, "max-write-buffer-bytes", cfg.MaxWriteBufferBytes, "per-connection write buffer cap")
	flag.IntVar(&cfg.IdleTimeoutSeconds, "idle-timeout-seconds", cfg.IdleTimeoutSeconds, "idle connection timeout")
	flag.IntVar(&cfg.PollBatchSize, "poll-batch-size", cfg.PollBatchSize, "readiness-interface batch size")
	flag.IntVar(&workers, "worker-pool-size", 0, "fixed worker pool size (0 = default)")
	flag.IntVar(&cfg.AcceptBacklog, "accept-backlog", cfg.AcceptBacklog, "listen() backlog")
	flag.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "maximum concurrent connections")
	flag.IntVar(&cfg.ConnectionPoolCap, "connection-pool-cap", cfg.ConnectionPoolCap, "connection object pool capacity")
	flag.BoolVar(&cfg.EnableWriteReadinessToggle, "enable-write-readiness-toggle", cfg.EnableWriteReadinessToggle, "toggle write-readiness when the write buffer drains")
	flag.BoolVar(&cfg.CompatStatus200OnProcessValidationError, "compat-status-200-on-process-validation-error", cfg.CompatStatus200OnProcessValidationError, "preserve the source's 200-on-validation-failure behavior for /process")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	flag.StringVar(&cfg.LogOutput, "log-output", cfg.LogOutput, "stdout|stderr|file")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for rotated log files when log-output=file")
	flag.StringVar(&cfg.Env, "env", cfg.Env, "environment name")
	flag.Parse()

	// Flags explicitly set on the command line must win over whatever the
	// YAML file carries, even though the file is merged in after
	// flag.Parse — record what was explicitly set before the merge, then
	// replay it afterward.
	explicit := make(map[string]string)
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if configPath != "" {
		if err := cfg.mergeYAMLFile(configPath); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	for name, value := range explicit {
		switch name {
		case "host":
			cfg.Host = value
		case "port":
			fmt.Sscanf(value, "%d", &cfg.Port)
		case "server.type":
			serverType = value
		case "max-read-buffer-bytes":
			fmt.Sscanf(value, "%d", &cfg.MaxReadBufferBytes)
		case "max-write-buffer-bytes":
			fmt.Sscanf(value, "%d", &cfg.MaxWriteBufferBytes)
		case "idle-timeout-seconds":
			fmt.Sscanf(value, "%d", &cfg.IdleTimeoutSeconds)
		case "poll-batch-size":
			fmt.Sscanf(value, "%d", &cfg.PollBatchSize)
		case "worker-pool-size":
			fmt.Sscanf(value, "%d", &workers)
		case "accept-backlog":
			fmt.Sscanf(value, "%d", &cfg.AcceptBacklog)
		case "max-connections":
			fmt.Sscanf(value, "%d", &cfg.MaxConnections)
		case "connection-pool-cap":
			fmt.Sscanf(value, "%d", &cfg.ConnectionPoolCap)
		case "enable-write-readiness-toggle":
			cfg.EnableWriteReadinessToggle = value == "true"
		case "compat-status-200-on-process-validation-error":
			cfg.CompatStatus200OnProcessValidationError = value == "true"
		case "log-level":
			cfg.LogLevel = value
		case "log-output":
			cfg.LogOutput = value
		case "log-dir":
			cfg.LogDir = value
		case "env":
			cfg.Env = value
		}
	}

	if serverType != "" {
		cfg.ServerType = ServerType(serverType)
	}
	if workers > 0 {
		cfg.WorkerPoolSize = workers
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = workerPoolDefault()
	}

	return cfg, cfg.Validate()
}

// mergeYAMLFile overlays file-provided values onto the Config's current
// values; anything the file omits keeps its current value. New replays
// explicitly set flags afterwards so they win over the file.
func (c *Config) mergeYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate rejects configuration that would make the server non-functional.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.ServerType != ServerTypeMultiplexing && c.ServerType != ServerTypeBlocking {
		return fmt.Errorf("config: invalid server.type %q", c.ServerType)
	}
	if c.MaxReadBufferBytes <= 0 || c.MaxWriteBufferBytes <= 0 {
		return fmt.Errorf("config: buffer caps must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: worker-pool-size must be positive")
	}
	return nil
}

func workerPoolDefault() int {
	n := runtime.NumCPU() * 4
	if n < 8 {
		n = 8
	}
	return n
}
