package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "PABENCH"
	DefaultFile    = "pabench.yaml"
	DefaultEnvFile = ".env"
)

// Backend is the argv of an aligner binary. It reads a job on stdin and
// prints a JobOutput on stdout.
type Backend struct {
	Command []string `mapstructure:"command"`
}

type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	LogsDir     string `mapstructure:"logs_dir"`
	Jobs        int    `mapstructure:"jobs"`
	NoPin       bool   `mapstructure:"no_pin"`
	Stderr      bool   `mapstructure:"stderr"`
	Verbose     bool   `mapstructure:"verbose"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	RedisAddr   string `mapstructure:"redis_addr"`
	Runner      struct {
		Backends map[string]Backend `mapstructure:"backends"`
	} `mapstructure:"runner"`

	// Nice is nil unless some source sets it.
	Nice *int `mapstructure:"-"`
}

// Backends flattens runner.backends into name -> argv. Names are lowercase.
func (c Config) Backends() map[string][]string {
	out := make(map[string][]string, len(c.Runner.Backends))
	for name, b := range c.Runner.Backends {
		if len(b.Command) > 0 {
			out[name] = b.Command
		}
	}
	return out
}

// Options select the sources Load reads.
type Options struct {
	// ConfigFile must exist when set. Otherwise DefaultFile is read if present.
	ConfigFile string
	// EnvFile must exist when set. Otherwise DefaultEnvFile is read if present.
	EnvFile string
	// Flags are bound by their dashed names (data-dir -> data_dir).
	Flags *pflag.FlagSet
}

// flagKeys maps config keys to command-line flag names.
var flagKeys = map[string]string{
	"data_dir":     "data-dir",
	"logs_dir":     "logs-dir",
	"jobs":         "jobs",
	"nice":         "nice",
	"no_pin":       "no-pin",
	"stderr":       "stderr",
	"verbose":      "verbose",
	"metrics_addr": "metrics-addr",
	"redis_addr":   "redis-addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "evals/data")
	v.SetDefault("logs_dir", "evals/results/.log")
	v.SetDefault("jobs", 5)
	v.SetDefault("no_pin", false)
	v.SetDefault("stderr", false)
	v.SetDefault("verbose", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("redis_addr", "")
}

// Load layers defaults, the config file, PABENCH_* environment variables
// (including those from a .env file) and flags, in increasing precedence.
// It returns the files it read.
func Load(opts Options) (Config, []string, error) {
	paths := []string{}

	envFile, required := opts.EnvFile, true
	if envFile == "" {
		envFile, required = DefaultEnvFile, false
	}
	if ok, err := fileExists(envFile); err != nil {
		return Config{}, paths, err
	} else if ok {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, paths, fmt.Errorf("read env file: %s: %w", envFile, err)
		}
		paths = append(paths, envFile)
	} else if required {
		return Config{}, paths, fmt.Errorf("env file not found: %s", envFile)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, required := opts.ConfigFile, true
	if configFile == "" {
		configFile, required = DefaultFile, false
	}
	if ok, err := fileExists(configFile); err != nil {
		return Config{}, paths, err
	} else if ok {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, paths, fmt.Errorf("parse config: %s: %w", configFile, err)
		}
		paths = append(paths, configFile)
	} else if required {
		return Config{}, paths, fmt.Errorf("config file not found: %s", configFile)
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, paths, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, paths, fmt.Errorf("unmarshal config: %w", err)
	}
	if v.IsSet("nice") {
		nice := v.GetInt("nice")
		cfg.Nice = &nice
	}
	if cfg.Jobs < 1 {
		return Config{}, paths, fmt.Errorf("jobs must be at least 1, got %d", cfg.Jobs)
	}
	return cfg, paths, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("config path is a directory: %s", path)
	}
	return true, nil
}
