package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// Config is a structured representation of a rentwatch config file.
type Config struct {
	// Marketplace API settings.
	Address string `yaml:"address"`
	APIKey  string `yaml:"api_key"`

	// MachineIDs lists the machines to monitor. An empty list monitors
	// every machine the account owns.
	MachineIDs []int64 `yaml:"machine_ids,omitempty"`

	// CheckFrequency is the poll interval in seconds. Values below 60
	// are raised to 60 to stay within upstream rate limits.
	CheckFrequency int `yaml:"check_frequency,omitempty"`

	// StateDir holds registry snapshots and archived rental logs.
	StateDir string `yaml:"state_dir,omitempty"`

	// LogFile, when set, mirrors logs to a size-rotated file.
	LogFile string `yaml:"log_file,omitempty"`

	Debug bool `yaml:"debug,omitempty"`

	// MetricsAddr, when set, exposes Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Notify Notify `yaml:"notify,omitempty"`

	Targets []Target `yaml:"targets,omitempty"`
}

// Notify controls monitor-level notification behavior.
type Notify struct {
	// OnStart and OnShutdown announce the monitor's own lifecycle.
	OnStart    bool `yaml:"on_start,omitempty"`
	OnShutdown bool `yaml:"on_shutdown,omitempty"`

	// OnStartupExisting reports rentals already in progress when
	// monitoring begins.
	OnStartupExisting bool `yaml:"on_startup_existing,omitempty"`

	// ErrorPingIntervalMinutes rate-limits repeated machine error and
	// timeout notifications.
	ErrorPingIntervalMinutes int `yaml:"error_ping_interval_minutes,omitempty"`
}

// Target is one notification destination. The URL scheme selects the
// delivery mechanism: http/https webhook, discord, nats, or amqp.
type Target struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name,omitempty"`

	// Events filters which event types the target receives. Empty,
	// "*" or "all" means everything.
	Events []string `yaml:"events,omitempty"`

	// Mention is prepended to messages on sinks that support it.
	Mention string `yaml:"mention,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the target should receive deliveries.
func (t *Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

const (
	addressKey    = "RENTWATCH_ADDR"
	apiKeyKey     = "RENTWATCH_API_KEY"
	configPathKey = "RENTWATCH_CONFIG_FILE"

	defaultAddress        = "https://console.vast.ai/api/v0"
	defaultCheckFrequency = 300
	defaultErrorPing      = 60

	configFile = "rentwatch.yml"
)

var configDir = filepath.Join(os.Getenv("HOME"), ".rentwatch")

// New reads environment and configuration files and returns the resulting
// configuration with defaults applied.
func New() (*Config, error) {
	config := Config{
		Address:        defaultAddress,
		CheckFrequency: defaultCheckFrequency,
		StateDir:       filepath.Join(configDir, "state"),
		Notify: Notify{
			ErrorPingIntervalMinutes: defaultErrorPing,
		},
	}

	r, err := findConfig()
	if err != nil {
		return nil, err
	}
	if r != nil {
		defer r.Close()

		d := yaml.NewDecoder(r)
		if err := d.Decode(&config); err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	if addr, ok := os.LookupEnv(addressKey); ok {
		config.Address = addr
	}
	if key, ok := os.LookupEnv(apiKeyKey); ok {
		config.APIKey = key
	}
	if config.Notify.ErrorPingIntervalMinutes <= 0 {
		config.Notify.ErrorPingIntervalMinutes = defaultErrorPing
	}
	return &config, nil
}

// Interval returns the poll interval, clamped to at least one minute.
func (c *Config) Interval() time.Duration {
	freq := c.CheckFrequency
	if freq <= 0 {
		freq = defaultCheckFrequency
	}
	if freq < 60 {
		freq = 60
	}
	return time.Duration(freq) * time.Second
}

// ErrorPingInterval returns the cooldown between repeated machine error
// notifications.
func (c *Config) ErrorPingInterval() time.Duration {
	minutes := c.Notify.ErrorPingIntervalMinutes
	if minutes <= 0 {
		minutes = defaultErrorPing
	}
	return time.Duration(minutes) * time.Minute
}

// GetFilePath returns the active config file path.
func GetFilePath() string {
	if override, ok := os.LookupEnv(configPathKey); ok {
		return override
	}
	return filepath.Join(configDir, configFile)
}

// ReadConfigFromFile loads a config file into the given struct without
// applying defaults.
func ReadConfigFromFile(path string, config *Config) error {
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	d := yaml.NewDecoder(r)
	if err := d.Decode(config); err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	return nil
}

// WriteConfig writes a config file, creating its directory if needed.
func WriteConfig(config *Config, filePath string) error {
	bytes, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	dirPath, _ := filepath.Split(filePath)
	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		return errors.WithStack(err)
	}

	return os.WriteFile(filePath, bytes, 0644)
}

func findConfig() (io.ReadCloser, error) {
	// Check the override first.
	if override, ok := os.LookupEnv(configPathKey); ok {
		return os.Open(override)
	}

	configPaths := []string{
		configDir,
		"/etc/rentwatch",
	}

	for _, p := range configPaths {
		r, err := os.Open(filepath.Join(p, configFile))
		if os.IsNotExist(err) {
			continue
		}
		return r, errors.WithStack(err)
	}

	// No config file found; we'll just use defaults.
	return nil, nil
}
