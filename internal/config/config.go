package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fxnlabs/hashfill/internal/accel"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger      LoggerConfig `yaml:"logger"`
	Accelerator accel.Config `yaml:"accelerator"`
	Server      ServerConfig `yaml:"server"`
}

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
}

type ServerConfig struct {
	ListenAddress   string        `yaml:"listenAddress"`
	ListenPort      int           `yaml:"listenPort"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.ListenAddress, strconv.Itoa(s.ListenPort))
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Verbosity: "info",
			Encoding:  "json",
		},
		Accelerator: accel.DefaultConfig(),
		Server: ServerConfig{
			ListenAddress:   "127.0.0.1",
			ListenPort:      8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Logger.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("logger: unknown encoding %q", c.Logger.Encoding)
	}
	if err := c.Accelerator.Validate(); err != nil {
		return fmt.Errorf("accelerator: %w", err)
	}
	if c.Server.ListenPort < 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("server: listen port %d out of range", c.Server.ListenPort)
	}
	return nil
}
