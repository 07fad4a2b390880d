package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models matchline.yml.
type Config struct {
	Scoring struct {
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"scoring"`
	Eligibility struct {
		MinRatingAvg   float64 `yaml:"min_rating_avg"`
		MinRatingCount int     `yaml:"min_rating_count"`
	} `yaml:"eligibility"`
	Waves struct {
		Sizes           []int `yaml:"sizes"`
		IntervalMinutes int   `yaml:"interval_minutes"`
		InviteCeiling   int   `yaml:"invite_ceiling"`
	} `yaml:"waves"`
	Reservation struct {
		TTLMinutes         int `yaml:"ttl_minutes"`
		MaxActivePerExpert int `yaml:"max_active_per_expert"`
	} `yaml:"reservation"`
	Sweep struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"sweep"`
	Push struct {
		VAPIDPublicKey  string `yaml:"vapid_public_key"`
		VAPIDPrivateKey string `yaml:"vapid_private_key"`
		Contact         string `yaml:"contact"`
	} `yaml:"push"`
	Auth struct {
		JWTSecret               string `yaml:"jwt_secret"`
		AllowLegacyExpertHeader bool   `yaml:"allow_legacy_expert_header"`
	} `yaml:"auth"`
}

// Signal names accepted in scoring.weights.
var signalNames = []string{
	"subject_fit", "price_fit", "deadline_fit", "rating",
	"accept_rate", "response_speed", "level_match", "historical_success",
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'ml config init' or pass --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// fall back to defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	var sum float64
	for name, w := range c.Scoring.Weights {
		if !isKnownSignal(name) {
			return fmt.Errorf("scoring.weights contains unknown signal %s", name)
		}
		if w < 0 {
			return fmt.Errorf("scoring.weights.%s must be >= 0", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("scoring.weights must sum to 1.0, got %.3f", sum)
	}
	if c.Eligibility.MinRatingCount < 0 {
		return fmt.Errorf("eligibility.min_rating_count must be >= 0")
	}
	if len(c.Waves.Sizes) == 0 {
		return fmt.Errorf("waves.sizes is required")
	}
	prev := 0
	for i, s := range c.Waves.Sizes {
		if s <= prev {
			return fmt.Errorf("waves.sizes must be strictly increasing (index %d)", i)
		}
		prev = s
	}
	if c.Waves.IntervalMinutes <= 0 {
		return fmt.Errorf("waves.interval_minutes must be > 0")
	}
	if c.Waves.InviteCeiling <= 0 {
		return fmt.Errorf("waves.invite_ceiling must be > 0")
	}
	if c.Reservation.TTLMinutes <= 0 {
		return fmt.Errorf("reservation.ttl_minutes must be > 0")
	}
	if c.Reservation.MaxActivePerExpert <= 0 {
		return fmt.Errorf("reservation.max_active_per_expert must be > 0")
	}
	if c.Sweep.IntervalSeconds <= 0 {
		return fmt.Errorf("sweep.interval_seconds must be > 0")
	}
	return nil
}

func isKnownSignal(name string) bool {
	for _, s := range signalNames {
		if s == name {
			return true
		}
	}
	return false
}

// ReservationTTL returns the soft-claim lifetime.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.Reservation.TTLMinutes) * time.Minute
}

// WaveInterval returns the delay before a task becomes eligible for the next
// invite wave.
func (c *Config) WaveInterval() time.Duration {
	return time.Duration(c.Waves.IntervalMinutes) * time.Minute
}

// SweepInterval returns the scheduler cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// WaveSize returns the invite cap for a wave number (1-based). Waves past the
// configured progression keep the last size.
func (c *Config) WaveSize(wave int) int {
	if len(c.Waves.Sizes) == 0 {
		return 5
	}
	if wave < 1 {
		wave = 1
	}
	if wave > len(c.Waves.Sizes) {
		wave = len(c.Waves.Sizes)
	}
	return c.Waves.Sizes[wave-1]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "matchline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// The wave progression and weights are product defaults, not invariants;
// deployments tune them here.
const defaultTemplate = `scoring:
  weights:
    subject_fit: 0.25
    price_fit: 0.15
    deadline_fit: 0.15
    rating: 0.15
    accept_rate: 0.10
    response_speed: 0.10
    level_match: 0.05
    historical_success: 0.05

eligibility:
  min_rating_avg: 3.0
  min_rating_count: 3

waves:
  sizes: [5, 15, 50]
  interval_minutes: 15
  invite_ceiling: 50

reservation:
  ttl_minutes: 15
  max_active_per_expert: 3

sweep:
  interval_seconds: 60

push:
  vapid_public_key: ""
  vapid_private_key: ""
  contact: ""

auth:
  jwt_secret: ""
  allow_legacy_expert_header: true
`
