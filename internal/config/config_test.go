package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_IslandsYAML(t *testing.T) {
	cfg, err := Load("../../configs/islands.yaml")
	require.NoError(t, err)

	w, ok := cfg.WorldByID(cfg.DefaultWorldID)
	require.True(t, ok)
	assert.Equal(t, 100, w.Distance)
	assert.Equal(t, 200, w.Spacing())
	assert.Equal(t, DefaultBlockedCeiling, w.BlockedCeiling)

	nether, ok := cfg.WorldByID("bskyblock_world_nether")
	require.True(t, ok)
	assert.True(t, nether.UseOwnGenerator)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"bskyblock_world"}, cfg.WorldIDs())
}

func TestNormalize_FillsDefaults(t *testing.T) {
	cfg := Config{Worlds: []WorldSpec{{ID: " a ", Distance: 64}}}
	cfg.Normalize()
	assert.Equal(t, "a", cfg.DefaultWorldID)
	assert.Equal(t, DefaultBlockedCeiling, cfg.Worlds[0].BlockedCeiling)
	assert.Equal(t, DefaultBundle, cfg.Worlds[0].DefaultBundle)
	assert.Equal(t, 1, cfg.Worlds[0].FetchBurst)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]Config{
		"empty":           {},
		"no distance":     {Worlds: []WorldSpec{{ID: "a"}}},
		"duplicate":       {Worlds: []WorldSpec{{ID: "a", Distance: 1}, {ID: "a", Distance: 1}}},
		"unknown default": {DefaultWorldID: "b", Worlds: []WorldSpec{{ID: "a", Distance: 1}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "islands.yaml")
	require.NoError(t, os.WriteFile(p, []byte("worlds: ["), 0o644))
	_, err := Load(p)
	assert.ErrorContains(t, err, "islands.yaml")
}
