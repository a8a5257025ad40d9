package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STATE_DIR", "")
	t.Setenv("ACCOUNT_AGE_WEEKS", "")
	t.Setenv("SEND_CONCURRENCY", "")
	t.Setenv("RECONNECT_INITIAL_MS", "")

	cfg := LoadConfig()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StateDir != "state" {
		t.Errorf("StateDir = %q, want state", cfg.StateDir)
	}
	if cfg.AccountAgeWeeks != 1 {
		t.Errorf("AccountAgeWeeks = %d, want 1", cfg.AccountAgeWeeks)
	}
	if cfg.SendConcurrency != 4 {
		t.Errorf("SendConcurrency = %d, want 4", cfg.SendConcurrency)
	}
	if cfg.Reconnect.InitialMs != 1000 || cfg.Reconnect.CapMs != 300000 || cfg.Reconnect.GiveUpAfter != 15 {
		t.Errorf("Reconnect = %+v, want defaults", cfg.Reconnect)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("API_KEY", "secret")
	t.Setenv("ACCOUNT_AGE_WEEKS", "6")
	t.Setenv("ACTIVE_HOURS_START", "9")
	t.Setenv("ACTIVE_HOURS_END", "18")
	t.Setenv("RECONNECT_GIVE_UP_AFTER", "5")

	cfg := LoadConfig()
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", cfg.APIKey)
	}
	if cfg.AccountAgeWeeks != 6 {
		t.Errorf("AccountAgeWeeks = %d, want 6", cfg.AccountAgeWeeks)
	}
	if cfg.ActiveHoursStart != 9 || cfg.ActiveHoursEnd != 18 {
		t.Errorf("active hours = %d-%d, want 9-18", cfg.ActiveHoursStart, cfg.ActiveHoursEnd)
	}
	if cfg.Reconnect.GiveUpAfter != 5 {
		t.Errorf("GiveUpAfter = %d, want 5", cfg.Reconnect.GiveUpAfter)
	}
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("SEND_CONCURRENCY", "not-a-number")

	cfg := LoadConfig()
	if cfg.SendConcurrency != 4 {
		t.Errorf("SendConcurrency = %d, want fallback 4", cfg.SendConcurrency)
	}
}
