// Package risk turns an ensemble probability and a feature vector into a risk
// score, a band and a routing action.
package risk

import (
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
	"github.com/gyaneshwarpardhi/fraudguard/internal/model"
	"github.com/gyaneshwarpardhi/fraudguard/internal/rules"
)

// Band is a coarse risk bucket.
type Band string

const (
	BandLow      Band = "LOW"
	BandMedium   Band = "MEDIUM"
	BandHigh     Band = "HIGH"
	BandCritical Band = "CRITICAL"
	BandSevere   Band = "SEVERE"
)

// Action is the routing decision for a band.
type Action string

const (
	ActionAutoApprove Action = "AUTO_APPROVE"
	ActionMonitor     Action = "APPROVE_WITH_MONITORING"
	ActionChallenge   Action = "CHALLENGE"
	ActionBlock       Action = "BLOCK"
)

// MaxScore is the score assigned when scoring is bypassed.
const MaxScore = 100.0

// Thresholds are inclusive upper bounds; anything above Critical is SEVERE.
type Thresholds struct {
	Low      float64 `json:"low"`
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds are 20/40/60/80.
var DefaultThresholds = Thresholds{Low: 20, Medium: 40, High: 60, Critical: 80}

// BandFor maps a score to its band.
func (t Thresholds) BandFor(score float64) Band {
	switch {
	case score <= t.Low:
		return BandLow
	case score <= t.Medium:
		return BandMedium
	case score <= t.High:
		return BandHigh
	case score <= t.Critical:
		return BandCritical
	default:
		return BandSevere
	}
}

// ActionFor maps a band to its routing decision.
func ActionFor(b Band) Action {
	switch b {
	case BandLow:
		return ActionAutoApprove
	case BandMedium:
		return ActionMonitor
	case BandHigh, BandCritical:
		return ActionChallenge
	default:
		return ActionBlock
	}
}

// Scorer produces the blended probability for a vector.
type Scorer interface {
	Score(v features.Vector, w model.Weights) (model.Score, error)
}

// Assessment is the immutable outcome of one evaluation.
type Assessment struct {
	BatchProbability    float64       `json:"batch_probability"`
	OnlineProbability   float64       `json:"online_probability"`
	CombinedProbability float64       `json:"combined_probability"`
	Score               float64       `json:"risk_score"`
	Band                Band          `json:"risk_band"`
	Action              Action        `json:"action"`
	Boosts              []rules.Match `json:"boosts,omitempty"`
	// ScoringSkipped is set when the account limit short-circuited the models.
	ScoringSkipped bool `json:"scoring_skipped,omitempty"`
}

// Policy is one immutable set of scoring parameters.
type Policy struct {
	Thresholds Thresholds
	Weights    model.Weights
	Rules      *rules.Set
}

// DefaultPolicy uses the stock thresholds, weights and boosts.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: DefaultThresholds,
		Weights:    model.DefaultWeights,
		Rules:      rules.MustBuildDefaults(),
	}
}

// Assess runs the single-transition policy over v.
func (p Policy) Assess(v features.Vector, scorer Scorer) (Assessment, error) {
	if v.AccountLimitExceeded == 1 {
		return Assessment{
			Score:          MaxScore,
			Band:           BandSevere,
			Action:         ActionBlock,
			ScoringSkipped: true,
		}, nil
	}

	s, err := scorer.Score(v, p.Weights)
	if err != nil {
		return Assessment{}, fmt.Errorf("score: %w", err)
	}

	raw := s.Combined * 100
	var boosts []rules.Match
	if p.Rules != nil {
		boosts, err = p.Rules.Evaluate(v)
		if err != nil {
			return Assessment{}, err
		}
	}
	for _, b := range boosts {
		raw += b.Points
	}
	score := Round2(Clamp(raw))
	band := p.Thresholds.BandFor(score)

	return Assessment{
		BatchProbability:    s.Batch,
		OnlineProbability:   s.Online,
		CombinedProbability: s.Combined,
		Score:               score,
		Band:                band,
		Action:              ActionFor(band),
		Boosts:              boosts,
	}, nil
}

// Clamp bounds a score to [0, 100].
func Clamp(score float64) float64 {
	return math.Max(0, math.Min(MaxScore, score))
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
