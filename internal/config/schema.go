package config

// PolicyConfig is the top-level YAML structure.
type PolicyConfig struct {
	Version  string       `yaml:"version" json:"version"`
	Features FeaturesConf `yaml:"features" json:"features"`
	Ensemble EnsembleConf `yaml:"ensemble" json:"ensemble"`
	Bands    BandsConf    `yaml:"bands" json:"bands"`
	Boosts   []BoostDef   `yaml:"boosts" json:"boosts"`
	OTP      OTPConf      `yaml:"otp" json:"otp"`
	Trust    TrustConf    `yaml:"trust" json:"trust"`
	Engine   EngineConf   `yaml:"engine" json:"engine"`
}

// FeaturesConf tunes feature extraction.
type FeaturesConf struct {
	VelocityWindowSeconds int                `yaml:"velocity_window_seconds" json:"velocity_window_seconds"`
	RapidThreshold        int                `yaml:"rapid_threshold" json:"rapid_threshold"`
	AccountLimits         map[string]float64 `yaml:"account_limits" json:"account_limits"`
	DefaultLimit          float64            `yaml:"default_limit" json:"default_limit"`
}

// EnsembleConf weights the online and batch probabilities.
type EnsembleConf struct {
	OnlineWeight *float64 `yaml:"online_weight" json:"online_weight"`
	BatchWeight  *float64 `yaml:"batch_weight" json:"batch_weight"`
}

// BandsConf holds the inclusive upper score bound of each band below SEVERE.
type BandsConf struct {
	Low      float64 `yaml:"low" json:"low"`
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// BoostDef is an additive risk rule: when Expression holds, Points are added.
type BoostDef struct {
	ID         string  `yaml:"id" json:"id"`
	Expression string  `yaml:"expression" json:"expression"`
	Points     float64 `yaml:"points" json:"points"`
	Disabled   bool    `yaml:"disabled" json:"disabled,omitempty"`
}

// OTPConf tunes the challenge codes.
type OTPConf struct {
	TTLSeconds int   `yaml:"ttl_seconds" json:"ttl_seconds"` // 0 = no expiry
	Digits     int   `yaml:"digits" json:"digits"`
	ExposeCode *bool `yaml:"expose_code" json:"expose_code"`
}

// TrustConf decides which labels may train the online learner.
type TrustConf struct {
	LearnFromAutoDecisions *bool `yaml:"learn_from_auto_decisions" json:"learn_from_auto_decisions"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Workers    int `yaml:"workers" json:"workers"`
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"`
}

// DefaultBoosts reproduce the stock rule boosts.
func DefaultBoosts() []BoostDef {
	return []BoostDef{
		{ID: "amount_spike", Expression: "amount_ratio > 3", Points: 10},
		{ID: "non_round_amount", Expression: "amount_mod_10 != 0", Points: 5},
		{ID: "new_location", Expression: "location_change == 1", Points: 10},
	}
}

// Default returns a fully defaulted policy.
func Default() *PolicyConfig {
	cfg := &PolicyConfig{Version: "default"}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued setting.
func ApplyDefaults(cfg *PolicyConfig) {
	f := &cfg.Features
	if f.VelocityWindowSeconds == 0 {
		f.VelocityWindowSeconds = 600
	}
	if f.RapidThreshold == 0 {
		f.RapidThreshold = 5
	}
	if f.AccountLimits == nil {
		f.AccountLimits = map[string]float64{
			"STUDENT":  5000,
			"SALARY":   25000,
			"BUSINESS": 50000,
		}
	}
	if f.DefaultLimit == 0 {
		f.DefaultLimit = 5000
	}

	if cfg.Ensemble.OnlineWeight == nil {
		cfg.Ensemble.OnlineWeight = float64Ptr(0.6)
	}
	if cfg.Ensemble.BatchWeight == nil {
		cfg.Ensemble.BatchWeight = float64Ptr(0.4)
	}

	if cfg.Bands == (BandsConf{}) {
		cfg.Bands = BandsConf{Low: 20, Medium: 40, High: 60, Critical: 80}
	}
	if cfg.Boosts == nil {
		cfg.Boosts = DefaultBoosts()
	}

	if cfg.OTP.Digits == 0 {
		cfg.OTP.Digits = 6
	}
	if cfg.OTP.ExposeCode == nil {
		cfg.OTP.ExposeCode = boolPtr(true)
	}
	if cfg.Trust.LearnFromAutoDecisions == nil {
		cfg.Trust.LearnFromAutoDecisions = boolPtr(true)
	}

	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 16
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 1000
	}
	if cfg.Engine.TimeoutMs == 0 {
		cfg.Engine.TimeoutMs = 2000
	}
}

func float64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool { return &v }
