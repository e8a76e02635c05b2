package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataDir       string  `json:"data_dir"`
	LogLevel      string  `json:"log_level"`
	LogFile       string  `json:"log_file"`
	MaxConcurrent int     `json:"max_concurrent"`
	AdminIDs      []int64 `json:"admin_ids"`
	Telegram      struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Delivery struct {
		MaxAttempts  int `json:"max_attempts"`
		RetrySlackMS int `json:"retry_slack_ms"`
		TextDelayMS  int `json:"text_delay_ms"`
		ChunkDelayMS int `json:"chunk_delay_ms"`
	} `json:"delivery"`
	Notify struct {
		ActivityChannel int64 `json:"activity_channel"`
		ArchiveDelayMS  int   `json:"archive_delay_ms"`
		ActivityDelayMS int   `json:"activity_delay_ms"`
	} `json:"notify"`
	Verify struct {
		TTLSeconds int `json:"ttl_seconds"`
	} `json:"verify"`
	Sessions struct {
		IdleMinutes int `json:"idle_minutes"`
	} `json:"sessions"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".collectbot"),
		LogLevel:      "info",
		MaxConcurrent: 4,
		AdminIDs:      []int64{},
	}
	cfg.Delivery.MaxAttempts = 2
	cfg.Delivery.RetrySlackMS = 5000
	cfg.Delivery.TextDelayMS = 500
	cfg.Delivery.ChunkDelayMS = 4000
	cfg.Notify.ArchiveDelayMS = 5000
	cfg.Notify.ActivityDelayMS = 2000
	cfg.Verify.TTLSeconds = 300
	cfg.Sessions.IdleMinutes = 24 * 60
	cfg.HTTP.Listen = "127.0.0.1:8089"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if ids := os.Getenv("COLLECTBOT_ADMIN_IDS"); ids != "" {
		parsed, err := ParseIDs(ids)
		if err != nil {
			return nil, fmt.Errorf("COLLECTBOT_ADMIN_IDS: %w", err)
		}
		cfg.AdminIDs = parsed
	}
	if ch := os.Getenv("COLLECTBOT_ACTIVITY_CHANNEL"); ch != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(ch), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("COLLECTBOT_ACTIVITY_CHANNEL: %w", err)
		}
		cfg.Notify.ActivityChannel = id
	}

	return cfg, nil
}

// ParseIDs reads a comma-separated list of integer ids.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues flattens cfg into dot-separated keys, masking secrets when
// mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		for name, v := range flat {
			if k, ok := LookupKey(name); ok && k.Secret {
				flat[name] = k.Format(v)
			}
		}
	}
	return flat, nil
}

// GetValue reads one dot-separated key from the config file, creating the
// file with defaults when it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a known key in an existing config file. The
// file is left untouched unless the result decodes and validates.
func SetValue(path, name, value string) error {
	key, ok := LookupKey(name)
	if !ok {
		return fmt.Errorf("unknown config key: %s", name)
	}
	parsed, err := key.Parse(value)
	if err != nil {
		return err
	}
	if err := key.Check(parsed); err != nil {
		return err
	}

	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	flat[name] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	return writeFile(path, data)
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}
