package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("COLLECTBOT_ADMIN_IDS", "")
	t.Setenv("COLLECTBOT_ACTIVITY_CHANNEL", "")
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxConcurrent != 4 || cfg.Delivery.MaxAttempts != 2 || cfg.Verify.TTLSeconds != 300 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.AdminIDs = []int64{10, 20}
	original.Telegram.Token = "bot-token-456"
	original.Notify.ActivityChannel = -100123
	original.HTTP.Enabled = true

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir || loaded.LogLevel != original.LogLevel {
		t.Errorf("top-level mismatch: %+v", loaded)
	}
	if len(loaded.AdminIDs) != 2 || loaded.AdminIDs[1] != 20 {
		t.Errorf("AdminIDs mismatch: %v", loaded.AdminIDs)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v", loaded.Telegram.Token)
	}
	if loaded.Notify.ActivityChannel != -100123 || !loaded.HTTP.Enabled {
		t.Errorf("nested mismatch: %+v %+v", loaded.Notify, loaded.HTTP)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level":"warn","delivery":{"max_attempts":3}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Delivery.MaxAttempts != 3 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Delivery.ChunkDelayMS != 4000 || cfg.HTTP.Listen != "127.0.0.1:8089" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Defaults()
	cfg.Telegram.Token = "from-file"
	writeTestConfig(t, path, cfg)

	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("COLLECTBOT_ADMIN_IDS", "7, 8,")
	t.Setenv("COLLECTBOT_ACTIVITY_CHANNEL", "-1009")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Telegram.Token != "from-env" {
		t.Errorf("token = %q", loaded.Telegram.Token)
	}
	if len(loaded.AdminIDs) != 2 || loaded.AdminIDs[0] != 7 || loaded.AdminIDs[1] != 8 {
		t.Errorf("admin ids = %v", loaded.AdminIDs)
	}
	if loaded.Notify.ActivityChannel != -1009 {
		t.Errorf("activity channel = %d", loaded.Notify.ActivityChannel)
	}

	t.Setenv("COLLECTBOT_ADMIN_IDS", "7,x")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed admin ids")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestListValues(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "bot-token-abcd"

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if plain["telegram.token"] != "bot-token-abcd" {
		t.Errorf("expected unmasked token, got %v", plain["telegram.token"])
	}
	// JSON numbers are float64
	if plain["delivery.text_delay_ms"] != float64(500) {
		t.Errorf("expected delivery.text_delay_ms=500, got %v", plain["delivery.text_delay_ms"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if masked["telegram.token"] != "***abcd" {
		t.Errorf("expected masked token, got %v", masked["telegram.token"])
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := Defaults()
	cfg.MaxConcurrent = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8) {
		t.Errorf("expected max_concurrent=8, got %v (%T)", v, v)
	}

	v, err = GetValue(path, "http.listen")
	if err != nil || v != "127.0.0.1:8089" {
		t.Errorf("http.listen = %v, %v", v, err)
	}

	_, err = GetValue(path, "nonexistent.key")
	if err == nil || err.Error() != "unknown config key: nonexistent.key" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestGetValue_NewFileHasDefaults(t *testing.T) {
	clearEnv(t)
	v, err := GetValue(tempConfigPath(t), "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	tests := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"delivery.max_attempts", "3", float64(3)},
		{"http.enabled", "true", true},
		{"telegram.token", "123456", "123456"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.value); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tt.key, err)
		}
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.key, v, v, tt.want)
		}
	}

	if err := SetValue(path, "admin_ids", "5, 6"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 5 {
		t.Errorf("admin_ids = %v", cfg.AdminIDs)
	}
	if cfg.LogLevel != "debug" || cfg.Delivery.ChunkDelayMS != 4000 {
		t.Errorf("other values not preserved: %+v", cfg)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestMillis(t *testing.T) {
	if Millis(1500) != 1500*time.Millisecond {
		t.Errorf("Millis(1500) = %v", Millis(1500))
	}
}

func TestSetValue_Rejects(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, value string
	}{
		{"custom.setting", "value"},
		{"delivery.max_attempts", "0"},
		{"delivery.max_attempts", "three"},
		{"delivery.chunk_delay_ms", "-5"},
		{"delivery.text_delay_ms", "60001"},
		{"notify.archive_delay_ms", "1.5"},
		{"verify.ttl_seconds", "0"},
		{"max_concurrent", "0"},
		{"log_level", "loud"},
		{"http.enabled", "sometimes"},
		{"admin_ids", "1,x"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.value); err == nil {
			t.Errorf("SetValue(%s, %q) succeeded, want error", tt.key, tt.value)
		}
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Error("rejected values should leave the file untouched")
	}
}

func TestSetValue_RejectsWhenFileInvalid(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := Defaults()
	cfg.Delivery.MaxAttempts = 0
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Error("expected the existing out-of-range value to be reported")
	}
}
