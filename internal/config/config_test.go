package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFlagsSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadReadsStatusUpdateIntervalSecondsFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Set("status-update-interval-seconds", "5"))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.StatusUpdateIntervalSeconds)
}

func TestLoadRejectsNonPositiveMapDimensions(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Set("map-width", "0"))

	_, err := Load(fs)
	assert.Error(t, err)
}
