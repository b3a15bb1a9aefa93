package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	User          UserConfig      `toml:"user"`
	AI            AIConfig        `toml:"ai"`
	Schedule      ScheduleConfig  `toml:"schedule"`
	Calendar      CalendarConfig  `toml:"calendar"`
	Directory     DirectoryConfig `toml:"directory"`
	Notifications NotifyConfig    `toml:"notifications"`
	Dialogue      DialogueConfig  `toml:"dialogue"`
	Log           LogConfig       `toml:"log"`
}

type UserConfig struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

type AIConfig struct {
	Provider       string `toml:"provider"` // "openai" or "claude-cli"
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ScheduleConfig struct {
	WorkStart              string `toml:"work_start"`
	WorkEnd                string `toml:"work_end"`
	WorkDays               []int  `toml:"work_days"`
	SlotIncrementMinutes   int    `toml:"slot_increment_minutes"`
	DefaultDurationMinutes int    `toml:"default_duration_minutes"`
	DurationPolicy         string `toml:"duration_policy"` // "ask_first" or "default_immediately"
	MaxSlotOffers          int    `toml:"max_slot_offers"`
	Timezone               string `toml:"timezone"`
}

type CalendarConfig struct {
	Backend    string      `toml:"backend"` // "ics" or "graph"
	Path       string      `toml:"path"`    // ICS file events are written to
	BusySource string      `toml:"busy_source"`
	Graph      GraphConfig `toml:"graph"`
}

type GraphConfig struct {
	ClientID string `toml:"client_id"`
	TenantID string `toml:"tenant_id"`
}

type DirectoryConfig struct {
	Path          string `toml:"path"`
	Privileged    bool   `toml:"privileged"`
	ReloadSeconds int    `toml:"reload_seconds"`
	Watch         bool   `toml:"watch"`
}

type NotifyConfig struct {
	Desktop         bool   `toml:"desktop"`
	AMQPURL         string `toml:"amqp_url"`
	Exchange        string `toml:"exchange"`
	RoutingKey      string `toml:"routing_key"`
	ReminderMinutes int    `toml:"reminder_minutes"` // lead time for `convene start`
}

type DialogueConfig struct {
	CallTimeoutSeconds     int `toml:"call_timeout_seconds"`
	DisambiguationAttempts int `toml:"disambiguation_attempts"`
	HistoryTurns           int `toml:"history_turns"`
	LaneIdleSeconds        int `toml:"lane_idle_seconds"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

func DefaultConfig() Config {
	return Config{
		User: UserConfig{
			ID: "me",
		},
		AI: AIConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Schedule: ScheduleConfig{
			WorkStart:              "09:00",
			WorkEnd:                "18:00",
			WorkDays:               []int{1, 2, 3, 4, 5},
			SlotIncrementMinutes:   30,
			DefaultDurationMinutes: 45,
			DurationPolicy:         "ask_first",
			MaxSlotOffers:          3,
		},
		Calendar: CalendarConfig{
			Backend: "ics",
		},
		Directory: DirectoryConfig{
			ReloadSeconds: 300,
		},
		Notifications: NotifyConfig{
			Desktop:         true,
			Exchange:        "convene.events",
			RoutingKey:      "meetings.invite.v1",
			ReminderMinutes: 10,
		},
		Dialogue: DialogueConfig{
			CallTimeoutSeconds:     20,
			DisambiguationAttempts: 3,
			HistoryTurns:           10,
			LaneIdleSeconds:        120,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "convene"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, falling back to defaults when it does not exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(&cfg)
			return &cfg, cfg.fillPaths()
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, cfg.fillPaths()
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("CONVENE_USER"); v != "" {
		cfg.User.ID = v
	}
	if v := os.Getenv("CONVENE_AMQP_URL"); v != "" {
		cfg.Notifications.AMQPURL = v
	}
	if v := os.Getenv("MSGRAPH_CLIENT_ID"); v != "" {
		cfg.Calendar.Graph.ClientID = v
	}
	if v := os.Getenv("MSGRAPH_TENANT_ID"); v != "" {
		cfg.Calendar.Graph.TenantID = v
	}
}

// Validate rejects values the dialogue engine cannot work with.
func (c *Config) Validate() error {
	switch c.Schedule.DurationPolicy {
	case "ask_first", "default_immediately":
	default:
		return fmt.Errorf("invalid schedule.duration_policy %q (want ask_first or default_immediately)", c.Schedule.DurationPolicy)
	}
	if c.Schedule.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("schedule.default_duration_minutes must be positive")
	}
	if c.Schedule.SlotIncrementMinutes <= 0 {
		return fmt.Errorf("schedule.slot_increment_minutes must be positive")
	}
	switch c.Calendar.Backend {
	case "ics", "graph":
	default:
		return fmt.Errorf("invalid calendar.backend %q", c.Calendar.Backend)
	}
	switch c.AI.Provider {
	case "openai", "claude-cli":
	default:
		return fmt.Errorf("invalid ai.provider %q", c.AI.Provider)
	}
	return nil
}

// fillPaths points unset file locations into the config directory.
func (c *Config) fillPaths() error {
	if c.Calendar.Path != "" && c.Directory.Path != "" && c.Log.File != "" {
		return nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if c.Calendar.Path == "" {
		c.Calendar.Path = filepath.Join(dir, "calendar.ics")
	}
	if c.Directory.Path == "" {
		c.Directory.Path = filepath.Join(dir, "contacts.toml")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(dir, "convene.log")
	}
	return nil
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Dialogue.CallTimeoutSeconds) * time.Second
}

func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// WriteDefault writes the default config to path unless a file is already there.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	out, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}
