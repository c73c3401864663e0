package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		CORSOrigins    []string      `yaml:"corsOrigins"`
		ReadTimeout    time.Duration `yaml:"readTimeout"`
		WriteTimeout   time.Duration `yaml:"writeTimeout"`
		RequestTimeout time.Duration `yaml:"requestTimeout"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // postgres, mysql or sqlite
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	LLM struct {
		Disabled  bool          `yaml:"disabled"`
		APIKey    string        `yaml:"apiKey"`
		BaseURL   string        `yaml:"baseURL"`
		Model     string        `yaml:"model"`
		MaxTokens int           `yaml:"maxTokens"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"llm"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Log struct {
		Mode  string `yaml:"mode"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default is a local setup: sqlite file, LLM on, no archive.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = 8000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 90 * time.Second
	cfg.Server.RequestTimeout = 80 * time.Second
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = "permeo.db"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2048
	cfg.LLM.Timeout = 60 * time.Second
	cfg.Log.Mode = "development"
	cfg.Log.Level = "info"
	return &cfg
}

// Load baca file config.yaml on top of the defaults, then applies env
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_DRIVER"); ok {
		c.Database.Driver = v
	}
	if v, ok := lookup("DATABASE_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok {
		c.LLM.APIKey = v
	}
	if v, ok := lookup("OPENAI_MODEL"); ok {
		c.LLM.Model = v
	}
	if v, ok := lookup("LLM_DISABLED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LLM_DISABLED: %w", err)
		}
		c.LLM.Disabled = b
	}
	if v, ok := lookup("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// DatabaseDSN prefers an explicit dsn and otherwise builds one from the parts.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	switch c.Database.Driver {
	case "mysql":
		return c.MySQLDSN()
	case "postgres", "postgresql":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
	default:
		return c.Database.Name
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}
