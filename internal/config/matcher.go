package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/harborline/tally/internal/common"
	"github.com/harborline/tally/internal/engine"
	"github.com/harborline/tally/internal/model"
)

// MatcherConfig builds the matcher tuning from viper, starting from the
// stock defaults. Recognized keys:
//
//	matcher.window_days.card
//	matcher.window_days.etransfer
//	matcher.window_days.cheque
//	matcher.window_days.default
//	matcher.epsilon            (decimal string, e.g. "0.01")
//	matcher.confidence_floor   (0..1)
func MatcherConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	channels := map[string]model.PaymentMethod{
		"card":      model.MethodCard,
		"etransfer": model.MethodETransfer,
		"cheque":    model.MethodCheque,
	}
	for key, method := range channels {
		full := "matcher.window_days." + key
		if viper.IsSet(full) {
			days := viper.GetInt(full)
			if days < 0 {
				return cfg, fmt.Errorf("%w: %s must not be negative", common.ErrInvalidConfig, full)
			}
			cfg.WindowDays[method] = days
		}
	}
	if viper.IsSet("matcher.window_days.default") {
		days := viper.GetInt("matcher.window_days.default")
		if days < 0 {
			return cfg, fmt.Errorf("%w: matcher.window_days.default must not be negative", common.ErrInvalidConfig)
		}
		cfg.DefaultWindowDays = days
	}

	if raw := viper.GetString("matcher.epsilon"); raw != "" {
		eps, err := decimal.NewFromString(raw)
		if err != nil || eps.IsNegative() {
			return cfg, fmt.Errorf("%w: matcher.epsilon %q", common.ErrInvalidConfig, raw)
		}
		cfg.Epsilon = eps
	}

	if viper.IsSet("matcher.confidence_floor") {
		floor := viper.GetFloat64("matcher.confidence_floor")
		if floor < 0 || floor > 1 {
			return cfg, fmt.Errorf("%w: matcher.confidence_floor must be between 0 and 1", common.ErrInvalidConfig)
		}
		cfg.ConfidenceFloor = floor
	}

	return cfg, nil
}
