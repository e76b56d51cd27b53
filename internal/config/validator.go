package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/fraudguard/internal/condition"
)

// Validate checks the policy for:
//   - Required fields
//   - Ensemble weights forming a convex blend
//   - Strictly increasing band bounds inside (0, 100)
//   - Unique, parseable boost rules
func Validate(cfg *PolicyConfig) error {
	var errs []string
	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}

	f := cfg.Features
	if f.VelocityWindowSeconds < 0 {
		errs = append(errs, "features.velocity_window_seconds must not be negative")
	}
	if f.RapidThreshold < 0 {
		errs = append(errs, "features.rapid_threshold must not be negative")
	}
	if f.DefaultLimit < 0 {
		errs = append(errs, "features.default_limit must not be negative")
	}
	for typ, limit := range f.AccountLimits {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("features.account_limits[%s] must be positive", typ))
		}
	}

	if cfg.Ensemble.OnlineWeight != nil && cfg.Ensemble.BatchWeight != nil {
		ow, bw := *cfg.Ensemble.OnlineWeight, *cfg.Ensemble.BatchWeight
		if ow < 0 || bw < 0 {
			errs = append(errs, "ensemble weights must not be negative")
		} else if math.Abs(ow+bw-1) > 1e-9 {
			errs = append(errs, fmt.Sprintf("ensemble weights must sum to 1, got %g", ow+bw))
		}
	}

	b := cfg.Bands
	bounds := []float64{0, b.Low, b.Medium, b.High, b.Critical, 100}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			errs = append(errs, fmt.Sprintf("bands must be strictly increasing within (0,100), got low=%g medium=%g high=%g critical=%g",
				b.Low, b.Medium, b.High, b.Critical))
			break
		}
	}

	ids := make(map[string]int)
	for i, bd := range cfg.Boosts {
		if bd.ID == "" {
			errs = append(errs, fmt.Sprintf("boosts[%d]: id is required", i))
			continue
		}
		if prev, ok := ids[bd.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate boost id %q (boosts[%d] and boosts[%d])", bd.ID, prev, i))
		} else {
			ids[bd.ID] = i
		}
		if bd.Expression == "" {
			errs = append(errs, fmt.Sprintf("boost %s: expression is required", bd.ID))
		} else if _, err := condition.Parse(bd.Expression); err != nil {
			errs = append(errs, fmt.Sprintf("boost %s: parse %q: %v", bd.ID, bd.Expression, err))
		}
	}

	if cfg.OTP.TTLSeconds < 0 {
		errs = append(errs, "otp.ttl_seconds must not be negative")
	}
	if cfg.OTP.Digits < 4 || cfg.OTP.Digits > 10 {
		errs = append(errs, fmt.Sprintf("otp.digits must be between 4 and 10, got %d", cfg.OTP.Digits))
	}

	if cfg.Engine.Workers < 0 || cfg.Engine.QueueDepth < 0 || cfg.Engine.TimeoutMs < 0 {
		errs = append(errs, "engine settings must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
