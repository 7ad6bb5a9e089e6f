package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/model"
)

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestMatcherConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := MatcherConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WindowDays[model.MethodCard])
	assert.Equal(t, 1, cfg.WindowDays[model.MethodETransfer])
	assert.Equal(t, 10, cfg.WindowDays[model.MethodCheque])
	assert.Equal(t, 2, cfg.DefaultWindowDays)
	assert.True(t, cfg.Epsilon.Equal(decimalFromString(t, "0.01")))
	assert.InDelta(t, 0.6, cfg.ConfidenceFloor, 1e-9)
}

func TestMatcherConfigOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("matcher.window_days.cheque", 21)
	viper.Set("matcher.window_days.default", 5)
	viper.Set("matcher.epsilon", "0.05")
	viper.Set("matcher.confidence_floor", 0.8)

	cfg, err := MatcherConfig()
	require.NoError(t, err)
	assert.Equal(t, 21, cfg.WindowDays[model.MethodCheque])
	assert.Equal(t, 3, cfg.WindowDays[model.MethodCard], "untouched channels keep defaults")
	assert.Equal(t, 5, cfg.DefaultWindowDays)
	assert.True(t, cfg.Epsilon.Equal(decimalFromString(t, "0.05")))
	assert.InDelta(t, 0.8, cfg.ConfidenceFloor, 1e-9)
}

func TestMatcherConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		value any
		name  string
		key   string
	}{
		{-1, "negative window", "matcher.window_days.card"},
		{-2, "negative default window", "matcher.window_days.default"},
		{"not a number", "bad epsilon", "matcher.epsilon"},
		{"-0.01", "negative epsilon", "matcher.epsilon"},
		{1.5, "floor above one", "matcher.confidence_floor"},
		{-0.1, "negative floor", "matcher.confidence_floor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			viper.Set(tt.key, tt.value)
			_, err := MatcherConfig()
			assert.Error(t, err)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("TALLY_TEST_DIR", "/var/data")
	assert.Equal(t, "/var/data/tally.db", ExpandPath("$TALLY_TEST_DIR/tally.db"))
	assert.Equal(t, "", ExpandPath(""))
}
