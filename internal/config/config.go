// Package config loads icloudsyncd's JSON configuration document (spec §6).
// It keeps the teacher's load-or-create-default / Normalize / atomic-Save
// shape, but reads JSON via viper (already the config library of choice
// elsewhere in this corpus' service-shaped repos) instead of hand-rolled
// YAML marshaling, and lets godotenv overlay local-development secrets
// before viper binds environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration (spec §6).
type Config struct {
	ICloudCalDavUrl string `json:"icloud_caldav_url" mapstructure:"icloud_caldav_url"`
	ICloudUser      string `json:"icloud_user" mapstructure:"icloud_user"`
	ICloudPassword  string `json:"icloud_password" mapstructure:"icloud_password"`
	PrincipalId     string `json:"principal_id" mapstructure:"principal_id"`
	WorkCalendarId  string `json:"work_calendar_id" mapstructure:"work_calendar_id"`

	InitialWaitSeconds  int `json:"initial_wait_seconds" mapstructure:"initial_wait_seconds"`
	SyncIntervalMinutes int `json:"sync_interval_minutes" mapstructure:"sync_interval_minutes"`

	SyncDaysIntoFuture int `json:"sync_days_into_future" mapstructure:"sync_days_into_future"`
	SyncDaysIntoPast   int `json:"sync_days_into_past" mapstructure:"sync_days_into_past"`

	RecurrenceExpansionDaysPast   int `json:"recurrence_expansion_days_past" mapstructure:"recurrence_expansion_days_past"`
	RecurrenceExpansionDaysFuture int `json:"recurrence_expansion_days_future" mapstructure:"recurrence_expansion_days_future"`

	SourceId string `json:"source_id" mapstructure:"source_id"`
	EventTag string `json:"event_tag" mapstructure:"event_tag"`

	SourceTimeZoneId string `json:"source_time_zone_id" mapstructure:"source_time_zone_id"`
	TargetTimeZoneId string `json:"target_time_zone_id" mapstructure:"target_time_zone_id"`

	IncludeSecondReminder bool `json:"include_second_reminder" mapstructure:"include_second_reminder"`

	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// LooseSourcePrefixClassification controls the open-question fallback
	// UID-classification rule from spec §9. Defaults to false; see
	// SPEC_FULL.md §10.
	LooseSourcePrefixClassification bool `json:"loose_source_prefix_classification" mapstructure:"loose_source_prefix_classification"`

	LogFilePath      string `json:"log_file_path" mapstructure:"log_file_path"`
	EventLogFilePath string `json:"event_log_file_path" mapstructure:"event_log_file_path"`

	OutlookHostPath string `json:"outlook_host_path" mapstructure:"outlook_host_path"`
}

// DefaultConfig returns an in-memory default configuration (spec §6 defaults).
func DefaultConfig() *Config {
	return &Config{
		InitialWaitSeconds:            60,
		SyncIntervalMinutes:           3,
		SyncDaysIntoFuture:            30,
		SyncDaysIntoPast:              30,
		RecurrenceExpansionDaysPast:   30,
		RecurrenceExpansionDaysFuture: 30,
		IncludeSecondReminder:         true,
		LogLevel:                      "info",
		LogFilePath:                   "./var/icloudsyncd.log",
		EventLogFilePath:              "./var/icloudsyncd.events.log",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.InitialWaitSeconds <= 0 {
		c.InitialWaitSeconds = def.InitialWaitSeconds
	}
	if c.SyncIntervalMinutes <= 0 {
		c.SyncIntervalMinutes = def.SyncIntervalMinutes
	}
	if c.SyncDaysIntoFuture <= 0 {
		c.SyncDaysIntoFuture = def.SyncDaysIntoFuture
	}
	if c.SyncDaysIntoPast <= 0 {
		c.SyncDaysIntoPast = def.SyncDaysIntoPast
	}
	if c.RecurrenceExpansionDaysPast <= 0 {
		c.RecurrenceExpansionDaysPast = def.RecurrenceExpansionDaysPast
	}
	if c.RecurrenceExpansionDaysFuture <= 0 {
		c.RecurrenceExpansionDaysFuture = def.RecurrenceExpansionDaysFuture
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFilePath == "" {
		c.LogFilePath = def.LogFilePath
	}
	if c.EventLogFilePath == "" {
		c.EventLogFilePath = def.EventLogFilePath
	}
}

// Validate checks the fields that have no safe default (credentials, URLs).
func (c *Config) Validate() error {
	var missing []string
	if c.ICloudCalDavUrl == "" {
		missing = append(missing, "icloud_caldav_url")
	}
	if c.ICloudUser == "" {
		missing = append(missing, "icloud_user")
	}
	if c.ICloudPassword == "" {
		missing = append(missing, "icloud_password")
	}
	if c.PrincipalId == "" {
		missing = append(missing, "principal_id")
	}
	if c.WorkCalendarId == "" {
		missing = append(missing, "work_calendar_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required fields: %v", missing)
	}
	return nil
}

// CalendarURL builds the calendar collection URL (spec §6).
func (c *Config) CalendarURL() string {
	return fmt.Sprintf("%s/%s/calendars/%s/",
		trimTrailingSlash(c.ICloudCalDavUrl), c.PrincipalId, c.WorkCalendarId)
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// Load loads configuration from the given JSON path, first overlaying a
// sibling .env file (if present) onto the process environment so
// credentials can live outside the config file in local development.
//
// Behavior:
//   - If the file does not exist: create parent dir, write a default
//     config with 0600 perms, return the default config.
//   - If it exists: read JSON via viper, allow environment variable
//     overrides (ICLOUDSYNCD_* prefix), normalize, return.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if saveErr := Save(path, cfg); saveErr != nil {
				return cfg, saveErr
			}
			return cfg, nil
		}
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("ICLOUDSYNCD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to path as JSON, atomically (temp
// file + rename) with 0600 permissions, mirroring the teacher's approach.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.MergeConfigMap(toMap(cfg)); err != nil {
		return err
	}

	// The temp name keeps a .json extension: viper's WriteConfigAs picks
	// the output format from the file extension.
	tmp, err := os.CreateTemp(dir, ".icloudsyncd-config-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	tmp.Close()

	if err := v.WriteConfigAs(tmpName); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return nil
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

func toMap(cfg *Config) map[string]any {
	return map[string]any{
		"icloud_caldav_url":                  cfg.ICloudCalDavUrl,
		"icloud_user":                        cfg.ICloudUser,
		"icloud_password":                    cfg.ICloudPassword,
		"principal_id":                       cfg.PrincipalId,
		"work_calendar_id":                   cfg.WorkCalendarId,
		"initial_wait_seconds":               cfg.InitialWaitSeconds,
		"sync_interval_minutes":              cfg.SyncIntervalMinutes,
		"sync_days_into_future":              cfg.SyncDaysIntoFuture,
		"sync_days_into_past":                cfg.SyncDaysIntoPast,
		"recurrence_expansion_days_past":     cfg.RecurrenceExpansionDaysPast,
		"recurrence_expansion_days_future":   cfg.RecurrenceExpansionDaysFuture,
		"source_id":                          cfg.SourceId,
		"event_tag":                          cfg.EventTag,
		"source_time_zone_id":                cfg.SourceTimeZoneId,
		"target_time_zone_id":                cfg.TargetTimeZoneId,
		"include_second_reminder":            cfg.IncludeSecondReminder,
		"log_level":                          cfg.LogLevel,
		"loose_source_prefix_classification": cfg.LooseSourcePrefixClassification,
		"log_file_path":                      cfg.LogFilePath,
		"event_log_file_path":                cfg.EventLogFilePath,
		"outlook_host_path":                  cfg.OutlookHostPath,
	}
}

// SyncInterval returns SyncIntervalMinutes as a time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// InitialWait returns InitialWaitSeconds as a time.Duration.
func (c *Config) InitialWait() time.Duration {
	return time.Duration(c.InitialWaitSeconds) * time.Second
}
