package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_AppliesOverrides(t *testing.T) {
	cfg, err := parseConfig(Config{
		URL:             "postgres://u:p@localhost:5432/taxbot",
		MaxConns:        8,
		MinConns:        2,
		MaxConnLifetime: time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, int32(8), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, "taxbot", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestParseConfig_KeepsApplicationNameFromURL(t *testing.T) {
	cfg, err := parseConfig(Config{URL: "postgres://u:p@localhost:5432/taxbot?application_name=worker"})
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestParseConfig_InvalidURL(t *testing.T) {
	_, err := parseConfig(Config{URL: "://not-a-url"})

	assert.ErrorContains(t, err, "failed to parse database config")
}
