package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SESSION_STORE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("SHIPPING_BOX_CM", "")
	cfg := FromEnv()

	if cfg.SessionStore != "postgres" {
		t.Fatalf("unexpected session store %q", cfg.SessionStore)
	}
	if cfg.PollInterval != 5*time.Second || cfg.CardPollTimeout != 10*time.Minute {
		t.Fatalf("unexpected poll settings %v %v", cfg.PollInterval, cfg.CardPollTimeout)
	}
	if cfg.PollMaxFailures != 12 || cfg.ArtifactAttempts != 5 {
		t.Fatalf("unexpected limits %d %d", cfg.PollMaxFailures, cfg.ArtifactAttempts)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Fatalf("unexpected idle timeout %v", cfg.SessionIdleTimeout)
	}
	if cfg.ShippingBoxCM != [3]int{30, 20, 10} {
		t.Fatalf("unexpected box %v", cfg.ShippingBoxCM)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("POLL_INTERVAL_SECONDS", "2")
	t.Setenv("INSTANT_TRANSFER_FALLBACK_EXPIRY_SECONDS", "600")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example, ,http://localhost:5173")
	t.Setenv("SHIPPING_BOX_CM", "40x30x15")
	t.Setenv("POLL_MAX_FAILURES", "abc")
	t.Setenv("SESSION_IDLE_TIMEOUT_SECONDS", "120")
	cfg := FromEnv()

	if cfg.SessionStore != "redis" || cfg.RedisDB != 3 {
		t.Fatalf("unexpected redis settings %q %d", cfg.SessionStore, cfg.RedisDB)
	}
	if cfg.PollInterval != 2*time.Second || cfg.FallbackExpiry != 10*time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.PollInterval, cfg.FallbackExpiry)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:5173" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ShippingBoxCM != [3]int{40, 30, 15} {
		t.Fatalf("unexpected box %v", cfg.ShippingBoxCM)
	}
	if cfg.SessionIdleTimeout != 2*time.Minute {
		t.Fatalf("unexpected idle timeout %v", cfg.SessionIdleTimeout)
	}
	if cfg.PollMaxFailures != 12 {
		t.Fatalf("invalid int should fall back, got %d", cfg.PollMaxFailures)
	}
}

func TestEnvBoxRejectsMalformed(t *testing.T) {
	t.Setenv("BOX", "10x0x5")
	if got := envBox("BOX", [3]int{1, 2, 3}); got != [3]int{1, 2, 3} {
		t.Fatalf("expected default, got %v", got)
	}
}
