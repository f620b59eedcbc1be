package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBlockedCeiling = 20
	DefaultBundle         = "default"
)

type Config struct {
	DefaultWorldID string      `yaml:"default_world_id"`
	Worlds         []WorldSpec `yaml:"worlds"`
}

// WorldSpec holds the island grid settings of one world.
type WorldSpec struct {
	ID string `yaml:"id"`

	// Distance is the minimum separation between island centres; the grid
	// step is twice this value.
	Distance int `yaml:"distance"`
	Height   int `yaml:"height"`
	StartX   int `yaml:"start_x"`
	StartZ   int `yaml:"start_z"`
	XOffset  int `yaml:"x_offset"`
	ZOffset  int `yaml:"z_offset"`

	BlockedCeiling  int  `yaml:"blocked_ceiling"`
	UseOwnGenerator bool `yaml:"use_own_generator"`

	KeepPreviousOnReset    bool   `yaml:"keep_previous_on_reset"`
	TeleportOnCreate       bool   `yaml:"teleport_on_create"`
	ResetDeathsOnNewIsland bool   `yaml:"reset_deaths_on_new_island"`
	DefaultBundle          string `yaml:"default_bundle"`

	FetchRatePerSec float64 `yaml:"fetch_rate_per_sec"`
	FetchBurst      int     `yaml:"fetch_burst"`
}

// Spacing is the grid step between neighbouring island centres.
func (w WorldSpec) Spacing() int { return w.Distance * 2 }

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("islands.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("islands.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DefaultWorldID: "bskyblock_world",
		Worlds: []WorldSpec{
			{
				ID:                     "bskyblock_world",
				Distance:               400,
				Height:                 120,
				BlockedCeiling:         DefaultBlockedCeiling,
				TeleportOnCreate:       true,
				ResetDeathsOnNewIsland: true,
				DefaultBundle:          DefaultBundle,
				FetchRatePerSec:        50,
				FetchBurst:             10,
			},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	for i := range c.Worlds {
		w := &c.Worlds[i]
		w.ID = strings.TrimSpace(w.ID)
		if w.BlockedCeiling <= 0 {
			w.BlockedCeiling = DefaultBlockedCeiling
		}
		if strings.TrimSpace(w.DefaultBundle) == "" {
			w.DefaultBundle = DefaultBundle
		}
		if w.FetchBurst <= 0 {
			w.FetchBurst = 1
		}
	}
	if strings.TrimSpace(c.DefaultWorldID) == "" && len(c.Worlds) > 0 {
		c.DefaultWorldID = c.Worlds[0].ID
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Worlds) == 0 {
		return fmt.Errorf("worlds must not be empty")
	}
	seen := map[string]bool{}
	for _, w := range c.Worlds {
		if w.ID == "" {
			return fmt.Errorf("world id must not be empty")
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		seen[w.ID] = true
		if w.Distance <= 0 {
			return fmt.Errorf("world %s distance must be > 0", w.ID)
		}
		if w.Height < 0 {
			return fmt.Errorf("world %s height must be >= 0", w.ID)
		}
		if w.FetchRatePerSec < 0 {
			return fmt.Errorf("world %s fetch_rate_per_sec must be >= 0", w.ID)
		}
	}
	if !seen[c.DefaultWorldID] {
		return fmt.Errorf("default_world_id %q not found in worlds", c.DefaultWorldID)
	}
	return nil
}

func (c Config) WorldByID(id string) (WorldSpec, bool) {
	for _, w := range c.Worlds {
		if w.ID == id {
			return w, true
		}
	}
	return WorldSpec{}, false
}

func (c Config) WorldIDs() []string {
	out := make([]string, 0, len(c.Worlds))
	for _, w := range c.Worlds {
		out = append(out, w.ID)
	}
	sort.Strings(out)
	return out
}
