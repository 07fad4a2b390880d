package config_test

import (
	"strings"
	"testing"
	"time"

	"matchline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ReservationTTL() != 15*time.Minute {
		t.Fatalf("ttl = %v", cfg.ReservationTTL())
	}
	if cfg.WaveInterval() != 15*time.Minute {
		t.Fatalf("wave interval = %v", cfg.WaveInterval())
	}
	if cfg.SweepInterval() != time.Minute {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval())
	}
}

func TestWeightsMustSumToOne(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Weights = map[string]float64{"subject_fit": 0.5, "rating": 0.2}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "sum to 1.0") {
		t.Fatalf("expected sum error, got %v", err)
	}
}

func TestUnknownSignalRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Weights = map[string]float64{"charisma": 1.0}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown signal") {
		t.Fatalf("expected unknown signal error, got %v", err)
	}
}

func TestWaveSizesMustIncrease(t *testing.T) {
	cfg := config.Default()
	cfg.Waves.Sizes = []int{5, 5, 50}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-increasing sizes")
	}
	cfg.Waves.Sizes = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty sizes")
	}
}

func TestWaveSizeClamps(t *testing.T) {
	cfg := config.Default()
	cfg.Waves.Sizes = []int{5, 15, 50}
	cases := []struct {
		wave, want int
	}{
		{0, 5},
		{1, 5},
		{2, 15},
		{3, 50},
		{7, 50},
	}
	for _, c := range cases {
		if got := cfg.WaveSize(c.wave); got != c.want {
			t.Fatalf("WaveSize(%d) = %d, want %d", c.wave, got, c.want)
		}
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("reservation:\n  ttl_minutes: 30\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ReservationTTL() != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.ReservationTTL())
	}
	// Untouched sections keep defaults.
	if cfg.Waves.InviteCeiling != 50 {
		t.Fatalf("ceiling = %d", cfg.Waves.InviteCeiling)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("reservation:\n  ttl_minutes: 0\n")); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := config.FromYAML([]byte(":::not yaml")); err == nil {
		t.Fatal("expected parse error")
	}
}
