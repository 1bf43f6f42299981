// Package config loads the orchestrator's configuration from a YAML file,
// environment variables (ASDLC_ prefixed), and a few individually
// overridable secrets, the same layered approach this codebase uses
// everywhere else it needs configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Pools        PoolsConfig        `mapstructure:"pools"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig holds the operator HTTP API's listen settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the ArangoDB connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// PoolsConfig holds the default per-role pool sizing and load-balancing
// strategy, applied to every role unless an operator overrides it.
type PoolsConfig struct {
	MinInstances     int    `mapstructure:"min_instances"`
	MaxInstances     int    `mapstructure:"max_instances"`
	Strategy         string `mapstructure:"strategy"`
	ScaleUpLoad      float64 `mapstructure:"scale_up_load"`
	ScaleDownLoad    float64 `mapstructure:"scale_down_load"`
	QueueThreshold   int    `mapstructure:"queue_threshold"`
}

// OrchestratorConfig holds executor-level timeouts and concurrency limits.
type OrchestratorConfig struct {
	TaskTimeoutMinutes      int `mapstructure:"task_timeout_minutes"`
	ExecutionTimeoutMinutes int `mapstructure:"execution_timeout_minutes"`
	MaxConcurrentWorkflows  int `mapstructure:"max_concurrent_workflows"`
}

// Load reads configPath (if set), falls back to ./config.yaml,
// ./configs/config.yaml, or /etc/asdlc/config.yaml, layers in a .env file
// and ASDLC_-prefixed environment variables, and returns the merged
// config.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   "agentic-sdlc-orchestrator",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     8529,
			Database: "agentic_sdlc",
			Username: "root",
		},
		Pools: PoolsConfig{
			MinInstances:   1,
			MaxInstances:   10,
			Strategy:       "least_loaded",
			ScaleUpLoad:    0.8,
			ScaleDownLoad:  0.2,
			QueueThreshold: 5,
		},
		Orchestrator: OrchestratorConfig{
			TaskTimeoutMinutes:      10,
			ExecutionTimeoutMinutes: 120,
			MaxConcurrentWorkflows:  10,
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/asdlc")

	viper.SetEnvPrefix("ASDLC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if password := os.Getenv("ASDLC_DATABASE_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if port := os.Getenv("ASDLC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbPort := os.Getenv("ASDLC_DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}

	return cfg, nil
}
