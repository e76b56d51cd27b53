package fraud

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
	"github.com/gyaneshwarpardhi/fraudguard/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudguard/internal/model"
	"github.com/gyaneshwarpardhi/fraudguard/internal/otp"
	"github.com/gyaneshwarpardhi/fraudguard/internal/risk"
	"github.com/gyaneshwarpardhi/fraudguard/internal/rules"
)

// Policy is an immutable, compiled snapshot of the policy file.
type Policy struct {
	Version  string
	Features features.Config
	Risk     risk.Policy
	OTP      otp.Config
	// ExposeCode returns the OTP in the evaluation response as simulated delivery.
	ExposeCode bool
	// LearnFromAuto feeds automatic approvals and blocks to the online learner.
	LearnFromAuto bool
	// Source is the config the snapshot was compiled from.
	Source *config.PolicyConfig
}

// CompilePolicy builds a snapshot from a validated config.
func CompilePolicy(cfg *config.PolicyConfig) (*Policy, error) {
	set, err := rules.Build(cfg.Boosts)
	if err != nil {
		return nil, err
	}

	w := model.DefaultWeights
	if cfg.Ensemble.OnlineWeight != nil {
		w.Online = *cfg.Ensemble.OnlineWeight
	}
	if cfg.Ensemble.BatchWeight != nil {
		w.Batch = *cfg.Ensemble.BatchWeight
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	limits := features.Limits{
		ByType:  make(map[string]float64, len(cfg.Features.AccountLimits)),
		Default: cfg.Features.DefaultLimit,
	}
	for typ, v := range cfg.Features.AccountLimits {
		limits.ByType[strings.ToUpper(typ)] = v
	}

	b := cfg.Bands
	p := &Policy{
		Version: cfg.Version,
		Features: features.Config{
			VelocityWindow: time.Duration(cfg.Features.VelocityWindowSeconds) * time.Second,
			RapidThreshold: cfg.Features.RapidThreshold,
			Limits:         limits,
		},
		Risk: risk.Policy{
			Thresholds: risk.Thresholds{Low: b.Low, Medium: b.Medium, High: b.High, Critical: b.Critical},
			Weights:    w,
			Rules:      set,
		},
		OTP: otp.Config{
			TTL:    time.Duration(cfg.OTP.TTLSeconds) * time.Second,
			Digits: cfg.OTP.Digits,
		},
		ExposeCode:    cfg.OTP.ExposeCode == nil || *cfg.OTP.ExposeCode,
		LearnFromAuto: cfg.Trust.LearnFromAutoDecisions == nil || *cfg.Trust.LearnFromAutoDecisions,
		Source:        cfg,
	}
	return p, nil
}

// CheckConfig reports whether cfg compiles. It has no side effects.
func CheckConfig(cfg *config.PolicyConfig) error {
	_, err := CompilePolicy(cfg)
	return err
}

// ApplyConfig compiles cfg and makes it the active policy.
func (s *Service) ApplyConfig(cfg *config.PolicyConfig) error {
	p, err := CompilePolicy(cfg)
	if err != nil {
		metrics.PolicyReloads.WithLabelValues("error").Inc()
		slog.Warn("policy rejected; keeping previous policy", "version", cfg.Version, "err", err)
		return err
	}
	s.SwapPolicy(p)
	metrics.PolicyReloads.WithLabelValues("success").Inc()
	slog.Info("policy applied", "version", p.Version, "boosts", p.Risk.Rules.Len())
	return nil
}

// Follow keeps the active policy in step with loader reloads. Reloads that do
// not compile are rejected before the loader swaps its config.
func (s *Service) Follow(l *config.Loader) {
	l.Check(CheckConfig)
	l.OnChange(func(cfg *config.PolicyConfig) { _ = s.ApplyConfig(cfg) })
}

// MustCompileDefault compiles config.Default.
func MustCompileDefault() *Policy {
	p, err := CompilePolicy(config.Default())
	if err != nil {
		panic(fmt.Sprintf("default policy: %v", err))
	}
	return p
}
