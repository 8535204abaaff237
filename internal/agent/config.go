package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	defaultMetricsInterval = 5 * time.Second
	defaultHashInterval    = time.Hour
	minHashInterval        = 60 * time.Second
	defaultMaxSizeMB       = 100
	defaultMaxFiles        = 5000
	defaultWorkers         = 4
	defaultChunkSize       = 2000

	hostRootDir = "/host"
)

type Config struct {
	CollectorURL    string        `yaml:"collector_url"`
	ConsulAddr      string        `yaml:"consul_addr"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	Hash            HashConfig    `yaml:"hash"`
}

type HashConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dirs      []string      `yaml:"dirs"`
	Interval  time.Duration `yaml:"interval"`
	MaxSizeMB int64         `yaml:"max_size_mb"`
	MaxFiles  int           `yaml:"max_files"`
	Workers   int           `yaml:"workers"`
	ChunkSize int           `yaml:"chunk_size"`
}

func DefaultConfig() Config {
	return Config{
		MetricsInterval: defaultMetricsInterval,
		Hash: HashConfig{
			Interval:  defaultHashInterval,
			MaxSizeMB: defaultMaxSizeMB,
			MaxFiles:  defaultMaxFiles,
			Workers:   defaultWorkers,
			ChunkSize: defaultChunkSize,
		},
	}
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides on top.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read agent config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse agent config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("COLLECTOR_URL"); v != "" {
		c.CollectorURL = v
	}
	if v := os.Getenv("CONSUL_HTTP_ADDR"); v != "" {
		c.ConsulAddr = v
	}
	if v := os.Getenv("HASH_DIRS"); v != "" {
		c.Hash.Dirs = strings.Fields(v)
	}

	var err error
	if c.MetricsInterval, err = envSeconds("METRICS_INTERVAL", c.MetricsInterval); err != nil {
		return err
	}
	if c.Hash.Interval, err = envSeconds("HASH_INTERVAL", c.Hash.Interval); err != nil {
		return err
	}
	if v := os.Getenv("HASH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HASH_ENABLED %q: %w", v, err)
		}
		c.Hash.Enabled = enabled
	}
	if v := os.Getenv("MAX_SIZE_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_SIZE_MB %q: %w", v, err)
		}
		c.Hash.MaxSizeMB = n
	}
	if c.Hash.MaxFiles, err = envInt("MAX_FILES", c.Hash.MaxFiles); err != nil {
		return err
	}
	if c.Hash.Workers, err = envInt("WORKERS", c.Hash.Workers); err != nil {
		return err
	}
	if c.Hash.ChunkSize, err = envInt("HASH_CHUNK_SIZE", c.Hash.ChunkSize); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalize() error {
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = defaultMetricsInterval
	}
	if c.Hash.Interval < minHashInterval {
		c.Hash.Interval = minHashInterval
	}
	if c.Hash.Workers < 1 {
		c.Hash.Workers = 1
	}
	if c.Hash.ChunkSize < 1 {
		c.Hash.ChunkSize = defaultChunkSize
	}
	c.CollectorURL = strings.TrimRight(c.CollectorURL, "/")

	if len(c.Hash.Dirs) == 0 {
		dir, err := defaultHashDir()
		if err != nil {
			return err
		}
		c.Hash.Dirs = []string{dir}
	}
	for i, dir := range c.Hash.Dirs {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return fmt.Errorf("expand hash dir %q: %w", dir, err)
		}
		c.Hash.Dirs[i] = expanded
	}
	return nil
}

// defaultHashDir is the host filesystem mount when running in a container,
// otherwise the user's home directory.
func defaultHashDir() (string, error) {
	if info, err := os.Stat(hostRootDir); err == nil && info.IsDir() {
		return hostRootDir, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return home, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
