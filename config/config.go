package config

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	RESTPort  int    `mapstructure:"rest_port"`
}

// DockerConfig holds the container runtime parameters shared by every language runner.
type DockerConfig struct {
	Host              string   `mapstructure:"host"`
	LanguagesDir      string   `mapstructure:"languages_dir"`
	ImagePrefix       string   `mapstructure:"image_prefix"`
	ContainerPrefix   string   `mapstructure:"container_prefix"`
	NetworkName       string   `mapstructure:"network_name"`
	Workdir           string   `mapstructure:"workdir"`
	CPUs              float64  `mapstructure:"cpus"`
	MemoryMB          int      `mapstructure:"memory_mb"`
	PidsLimit         int64    `mapstructure:"pids_limit"`
	TimeoutSec        int      `mapstructure:"timeout_sec"`
	StartupTimeoutSec int      `mapstructure:"startup_timeout_sec"`
	BuildExcludes     []string `mapstructure:"build_excludes"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Transport names accepted in server.transport
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportREST  = "rest"
)

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CASEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", TransportREST)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rest_port", 3000)

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.languages_dir", "languages")
	v.SetDefault("docker.image_prefix", "casegen-")
	v.SetDefault("docker.container_prefix", "casegen-run-")
	v.SetDefault("docker.network_name", "casegen-isolated")
	v.SetDefault("docker.workdir", "/runner")
	v.SetDefault("docker.cpus", 1.0)
	v.SetDefault("docker.memory_mb", 256)
	v.SetDefault("docker.pids_limit", 64)
	v.SetDefault("docker.timeout_sec", 10)
	v.SetDefault("docker.startup_timeout_sec", 900)
	v.SetDefault("docker.build_excludes", []string{"*.hbs", "language.yaml"})

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP, TransportREST:
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'rest'", c.Server.Transport)
	}

	if c.Server.Transport == TransportHTTP && c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Server.Transport == TransportREST && c.Server.RESTPort <= 0 {
		return fmt.Errorf("server.rest_port must be positive, got: %d", c.Server.RESTPort)
	}

	d := c.Docker
	if d.LanguagesDir == "" {
		return fmt.Errorf("docker.languages_dir must not be empty")
	}

	if d.ImagePrefix == "" || d.ContainerPrefix == "" {
		return fmt.Errorf("docker.image_prefix and docker.container_prefix must not be empty")
	}

	if d.NetworkName == "" {
		return fmt.Errorf("docker.network_name must not be empty")
	}

	if !path.IsAbs(d.Workdir) {
		return fmt.Errorf("docker.workdir must be an absolute path, got: %q", d.Workdir)
	}

	if d.CPUs <= 0 {
		return fmt.Errorf("docker.cpus must be positive, got: %v", d.CPUs)
	}

	if d.MemoryMB <= 0 {
		return fmt.Errorf("docker.memory_mb must be positive, got: %d", d.MemoryMB)
	}

	if d.PidsLimit < 0 {
		return fmt.Errorf("docker.pids_limit must not be negative, got: %d", d.PidsLimit)
	}

	if d.TimeoutSec <= 0 {
		return fmt.Errorf("docker.timeout_sec must be positive, got: %d", d.TimeoutSec)
	}

	if d.StartupTimeoutSec <= 0 {
		return fmt.Errorf("docker.startup_timeout_sec must be positive, got: %d", d.StartupTimeoutSec)
	}

	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the per-execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Docker.TimeoutSec) * time.Second
}

// GetStartupTimeout bounds how long the runner registry may take to build all images.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Docker.StartupTimeoutSec) * time.Second
}
