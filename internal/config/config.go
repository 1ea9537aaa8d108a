// Package config provides YAML-based configuration loading for GPSMaster.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the top-level GPSMaster configuration, loaded from config.yaml.
type Config struct {
	Timezone  string          `yaml:"timezone"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Admins    []int64         `yaml:"admins"`
	Masters   []MasterConfig  `yaml:"masters"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Pairing   PairingConfig   `yaml:"pairing"`
	MaxQty    int             `yaml:"max_device_qty"`
	Reminders ReminderConfig  `yaml:"reminders"`
	Retention RetentionConfig `yaml:"retention"`
}

// HTTPConfig holds the webhook server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	WebhookPath string `yaml:"webhook_path"`
}

// DBConfig selects the storage backend. The sqlite driver is the default;
// mysql is available for hosted deployments.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
}

// MasterConfig describes one field technician available for assignment.
type MasterConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	City   string `yaml:"city"`
	ChatID int64  `yaml:"chat_id"`
}

// DeviceConfig describes one selectable device or accessory kind.
// Accessories never generate photo evidence slots.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	Accessory bool   `yaml:"accessory"`
}

// PairingConfig binds a companion sensor kind to a parent device kind.
// When both are selected on an order, companion units attach to parent
// units instead of appearing as standalone devices.
type PairingConfig struct {
	Parent    string `yaml:"parent"`
	Companion string `yaml:"companion"`
}

// ReminderConfig tunes the stalled-order sweeper and the daily digest.
type ReminderConfig struct {
	BaselineMinutes int    `yaml:"baseline_minutes"` // first reminder after accept
	RepeatMinutes   int    `yaml:"repeat_minutes"`   // follow-up interval
	BufferMinutes   int    `yaml:"buffer_minutes"`   // added to master self-estimates
	SweepSeconds    int    `yaml:"sweep_seconds"`
	DigestCron      string `yaml:"digest_cron"`   // 5-field cron, empty disables
	SlackChannel    string `yaml:"slack_channel"` // ops mirror, empty disables
}

// RetentionConfig controls archival of terminal orders.
type RetentionConfig struct {
	TerminalDays int `yaml:"terminal_days"`
}

// Secrets holds process credentials read from the environment (GPSM_ prefix).
type Secrets struct {
	BotToken   string `envconfig:"BOT_TOKEN" required:"true"`
	SlackToken string `envconfig:"SLACK_TOKEN"`
}

// LoadSecrets reads credentials from GPSM_-prefixed environment variables.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("gpsm", &s); err != nil {
		return nil, fmt.Errorf("config: secrets: %w", err)
	}
	return &s, nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultDevices is the catalog used when the config lists none.
var DefaultDevices = []DeviceConfig{
	{Name: "FMB920"},
	{Name: "FMB125"},
	{Name: "FMB140"},
	{Name: "DUT"},
	{Name: "Relay", Accessory: true},
	{Name: "TempSensor", Accessory: true},
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "Asia/Dushanbe"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.WebhookPath == "" {
		c.HTTP.WebhookPath = "/telegram/webhook"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "gpsmaster.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "gpsmaster"
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if len(c.Devices) == 0 {
		c.Devices = append([]DeviceConfig(nil), DefaultDevices...)
		if c.Pairing.Parent == "" && c.Pairing.Companion == "" {
			c.Pairing = PairingConfig{Parent: "FMB125", Companion: "DUT"}
		}
	}
	if c.MaxQty == 0 {
		c.MaxQty = 20
	}
	if c.Reminders.BaselineMinutes == 0 {
		c.Reminders.BaselineMinutes = 180
	}
	if c.Reminders.RepeatMinutes == 0 {
		c.Reminders.RepeatMinutes = 60
	}
	if c.Reminders.BufferMinutes == 0 {
		c.Reminders.BufferMinutes = 30
	}
	if c.Reminders.SweepSeconds == 0 {
		c.Reminders.SweepSeconds = 60
	}
	if c.Retention.TerminalDays == 0 {
		c.Retention.TerminalDays = 90
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if len(c.Admins) == 0 {
		errs = append(errs, "at least one admin chat id is required")
	}
	if len(c.Masters) == 0 {
		errs = append(errs, "at least one master is required")
	}
	for i, m := range c.Masters {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("masters[%d].id is required", i))
		}
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("masters[%d].name is required", i))
		}
		if m.ChatID == 0 {
			errs = append(errs, fmt.Sprintf("masters[%d].chat_id is required", i))
		}
	}
	kinds := make(map[string]DeviceConfig, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
			continue
		}
		if _, dup := kinds[d.Name]; dup {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate kind %q", i, d.Name))
		}
		kinds[d.Name] = d
	}
	if (c.Pairing.Parent == "") != (c.Pairing.Companion == "") {
		errs = append(errs, "pairing requires both parent and companion")
	}
	if c.Pairing.Parent != "" {
		if p, ok := kinds[c.Pairing.Parent]; !ok {
			errs = append(errs, fmt.Sprintf("pairing.parent %q is not in the device catalog", c.Pairing.Parent))
		} else if p.Accessory {
			errs = append(errs, fmt.Sprintf("pairing.parent %q cannot be an accessory", c.Pairing.Parent))
		}
		if comp, ok := kinds[c.Pairing.Companion]; !ok {
			errs = append(errs, fmt.Sprintf("pairing.companion %q is not in the device catalog", c.Pairing.Companion))
		} else if comp.Accessory {
			errs = append(errs, fmt.Sprintf("pairing.companion %q cannot be an accessory", c.Pairing.Companion))
		}
	}
	if c.DB.Driver != "sqlite" && c.DB.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite or mysql)", c.DB.Driver))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the configured timezone. Validation guarantees the name
// parses, so the fallback only matters for zero-value Configs in tests.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MasterByID returns the configured master with the given id, or nil.
func (c *Config) MasterByID(id string) *MasterConfig {
	for i := range c.Masters {
		if c.Masters[i].ID == id {
			return &c.Masters[i]
		}
	}
	return nil
}

// MasterByChat returns the configured master with the given chat id, or nil.
func (c *Config) MasterByChat(chatID int64) *MasterConfig {
	for i := range c.Masters {
		if c.Masters[i].ChatID == chatID {
			return &c.Masters[i]
		}
	}
	return nil
}
