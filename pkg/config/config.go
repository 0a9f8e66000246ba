// Package config loads master configuration from a YAML file, environment
// variables, and CLI flags (in increasing priority), and can watch the file
// for changes, handing each reloaded Config to a caller-supplied callback.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/veles-go/master/pkg/log"
)

// Config is the master coordinator's full configuration surface (§6.4).
type Config struct {
	ControlAddr    string        `mapstructure:"control_addr"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	IPCDir         string        `mapstructure:"ipc_dir"`
	WorkflowCksum  string        `mapstructure:"workflow_checksum"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	Respawn        bool          `mapstructure:"respawn"`
	DNSSuffix      string        `mapstructure:"dns_suffix"`
	ThreadPoolSize int           `mapstructure:"thread_pool_size"`
	LogLevel       string        `mapstructure:"log_level"`
	LogJSON        bool          `mapstructure:"log_json"`
}

func defaults() Config {
	return Config{
		ControlAddr:    ":4050",
		MetricsAddr:    ":9090",
		IPCDir:         "/tmp",
		JobTimeout:     2 * time.Minute,
		Respawn:        false,
		ThreadPoolSize: 4,
		LogLevel:       "info",
	}
}

// Loader loads Config and watches its backing file for hot-reloadable
// changes (job_timeout, respawn), following the teacher pack's layered
// viper setup (zjrosen-perles's cmd/root.go: flags bound over defaults,
// a config file read on top, fsnotify watching that file for changes).
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader. flags, if non-nil, are bound into viper so
// CLI flags take priority over the config file and environment.
func NewLoader(configFile string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("MASTERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("control_addr", d.ControlAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("ipc_dir", d.IPCDir)
	v.SetDefault("job_timeout", d.JobTimeout)
	v.SetDefault("respawn", d.Respawn)
	v.SetDefault("thread_pool_size", d.ThreadPoolSize)
	v.SetDefault("log_level", d.LogLevel)

	// Flags use CLI-conventional dashes (--control-addr); config keys use
	// mapstructure's underscores (control_addr). Bound individually rather
	// than via BindPFlags, which binds by exact flag name and would never
	// match the two naming conventions up.
	flagKeys := map[string]string{
		"control-addr":      "control_addr",
		"metrics-addr":      "metrics_addr",
		"ipc-dir":           "ipc_dir",
		"workflow-checksum": "workflow_checksum",
		"job-timeout":       "job_timeout",
		"respawn":           "respawn",
		"dns-suffix":        "dns_suffix",
		"thread-pool-size":  "thread_pool_size",
		"log-level":         "log_level",
		"log-json":          "log_json",
	}
	if flags != nil {
		for flagName, key := range flagKeys {
			if f := flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", configFile, err)
			}
		}
	}

	return &Loader{v: v}, nil
}

// Load unmarshals the current configuration.
func (l *Loader) Load() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// WatchReload calls onChange with the freshly reloaded Config every time
// the backing file changes on disk. It applies nothing itself: whatever
// onChange does with the new values is all that changes.
func (l *Loader) WatchReload(onChange func(Config)) {
	logger := log.WithComponent("config")
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to reload config after file change")
			return
		}
		logger.Info().Str("op", e.Op.String()).Msg("config file changed, reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}
