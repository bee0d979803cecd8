package models

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTargetURL        = "ws://localhost:8383/ws"
	DefaultMessagesPerUser  = 5
	DefaultThinkTimeMin     = 2 * time.Second
	DefaultThinkTimeMax     = 14 * time.Second
	DefaultUnsubscribeDelay = 5 * time.Second
	DefaultCloseDelay       = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultMonitorAddr      = ":6565"
	DefaultLogDir           = "logs"
	DefaultDatabasePath     = "results/chatload.db"
)

// Duration lets TOML files spell durations as "2m" or "150ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Target    TargetConfig    `toml:"target"`
	Session   SessionConfig   `toml:"session"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Stages    []Stage         `toml:"stages"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Output    OutputConfig    `toml:"output"`
}

type TargetConfig struct {
	URL              string   `toml:"url"`
	Channels         []string `toml:"channels"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

type SessionConfig struct {
	MessagesPerUser     int      `toml:"messages_per_user"`
	ThinkTimeMin        Duration `toml:"think_time_min"`
	ThinkTimeMax        Duration `toml:"think_time_max"`
	UnsubscribeDelay    Duration `toml:"unsubscribe_delay"`
	CloseDelay          Duration `toml:"close_delay"`
	UnsubscribeOddUsers bool     `toml:"unsubscribe_odd_users"`
}

type SchedulerConfig struct {
	TickInterval Duration `toml:"tick_interval"`
}

// Stage is one segment of the ramp profile: reach Target users over Duration.
type Stage struct {
	Duration Duration `toml:"duration" json:"duration"`
	Target   int      `toml:"target" json:"target"`
}

type MonitorConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type OutputConfig struct {
	LogDir        string `toml:"log_dir"`
	LogLevel      string `toml:"log_level"`
	Database      string `toml:"database"`
	SummaryExport string `toml:"summary_export"`
}

// DefaultStages is the profile the chat service was originally tested with.
func DefaultStages() []Stage {
	return []Stage{
		{Duration: Duration{2 * time.Minute}, Target: 1000},
		{Duration: Duration{4 * time.Minute}, Target: 2800},
		{Duration: Duration{4 * time.Minute}, Target: 2800},
		{Duration: Duration{2 * time.Minute}, Target: 0},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			URL:              DefaultTargetURL,
			Channels:         []string{"chat"},
			HandshakeTimeout: Duration{DefaultHandshakeTimeout},
		},
		Session: SessionConfig{
			MessagesPerUser:     DefaultMessagesPerUser,
			ThinkTimeMin:        Duration{DefaultThinkTimeMin},
			ThinkTimeMax:        Duration{DefaultThinkTimeMax},
			UnsubscribeDelay:    Duration{DefaultUnsubscribeDelay},
			CloseDelay:          Duration{DefaultCloseDelay},
			UnsubscribeOddUsers: true,
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration{DefaultTickInterval},
		},
		Stages: DefaultStages(),
		Monitor: MonitorConfig{
			Enabled: true,
			Addr:    DefaultMonitorAddr,
		},
		Output: OutputConfig{
			LogDir:   DefaultLogDir,
			LogLevel: "INFO",
			Database: DefaultDatabasePath,
		},
	}
}

// LoadConfig reads configPath on top of DefaultConfig. A missing file is not
// an error: the defaults describe a complete run.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	// Stages in the file replace the default profile rather than appending to it.
	config.Stages = nil
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %v", err)
	}
	if len(config.Stages) == 0 {
		config.Stages = DefaultStages()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %v", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return err
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}

	if c.Scheduler.TickInterval.Duration <= 0 {
		return errors.New("scheduler tick_interval must be greater than 0")
	}

	if err := ValidateStages(c.Stages); err != nil {
		return err
	}

	if c.Monitor.Enabled && strings.TrimSpace(c.Monitor.Addr) == "" {
		return errors.New("monitor addr is required when monitor is enabled")
	}

	return nil
}

func (t *TargetConfig) Validate() error {
	if t.URL == "" {
		return errors.New("target url is required")
	}

	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("target url is invalid: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("target url scheme must be 'ws' or 'wss', got '%s'", u.Scheme)
	}

	if len(t.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	for i, ch := range t.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("channel %d: name is empty", i+1)
		}
		if strings.Contains(ch, ":") {
			return fmt.Errorf("channel %d: name must not contain ':'", i+1)
		}
	}

	if t.HandshakeTimeout.Duration < 0 {
		return errors.New("handshake_timeout must not be negative")
	}

	return nil
}

func (s *SessionConfig) Validate() error {
	if s.MessagesPerUser < 0 {
		return errors.New("messages_per_user must not be negative")
	}

	if s.ThinkTimeMin.Duration < 0 {
		return errors.New("think_time_min must not be negative")
	}

	if s.ThinkTimeMax.Duration < s.ThinkTimeMin.Duration {
		return errors.New("think_time_max must not be less than think_time_min")
	}

	if s.UnsubscribeDelay.Duration < 0 || s.CloseDelay.Duration < 0 {
		return errors.New("unsubscribe_delay and close_delay must not be negative")
	}

	return nil
}

func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return errors.New("at least one stage is required")
	}

	for i, st := range stages {
		if st.Duration.Duration <= 0 {
			return fmt.Errorf("stage %d: duration must be greater than 0", i+1)
		}
		if st.Target < 0 {
			return fmt.Errorf("stage %d: target must not be negative", i+1)
		}
	}

	return nil
}

// TotalDuration is the length of the whole ramp profile.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, st := range stages {
		total += st.Duration.Duration
	}
	return total
}

// MaxTarget is the highest concurrency the profile asks for.
func MaxTarget(stages []Stage) int {
	maxTarget := 0
	for _, st := range stages {
		if st.Target > maxTarget {
			maxTarget = st.Target
		}
	}
	return maxTarget
}
