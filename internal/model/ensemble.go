package model

import (
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
)

// BatchModel is a fixed scoring function over features.Order.
type BatchModel interface {
	PredictProbability(x []float64) (float64, error)
}

// OnlineModel is an incrementally trained classifier over named features.
type OnlineModel interface {
	PredictProbability(x map[string]float64) float64
	Update(x map[string]float64, label int) error
}

// Weights blend the two probabilities. They must sum to 1.
type Weights struct {
	Online float64 `json:"online"`
	Batch  float64 `json:"batch"`
}

// DefaultWeights favour the adaptive model while keeping the batch floor.
var DefaultWeights = Weights{Online: 0.6, Batch: 0.4}

// Validate checks the blend is a convex combination.
func (w Weights) Validate() error {
	if w.Online < 0 || w.Batch < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if math.Abs(w.Online+w.Batch-1) > 1e-9 {
		return fmt.Errorf("ensemble weights must sum to 1, got %g", w.Online+w.Batch)
	}
	return nil
}

// Score is the output of one ensemble evaluation.
type Score struct {
	Batch    float64 `json:"batch_probability"`
	Online   float64 `json:"online_probability"`
	Combined float64 `json:"combined_probability"`
}

// Ensemble owns the batch classifier and the shared online learner.
type Ensemble struct {
	batch  BatchModel
	online OnlineModel
}

// NewEnsemble wires the two models.
func NewEnsemble(batch BatchModel, online OnlineModel) *Ensemble {
	return &Ensemble{batch: batch, online: online}
}

// Score blends both probabilities for v.
func (e *Ensemble) Score(v features.Vector, w Weights) (Score, error) {
	pb, err := e.batch.PredictProbability(v.Ordered())
	if err != nil {
		return Score{}, err
	}
	if pb < 0 || pb > 1 || math.IsNaN(pb) {
		return Score{}, fmt.Errorf("batch probability %g out of range", pb)
	}
	po := e.online.PredictProbability(v.Named())
	if po < 0 || po > 1 || math.IsNaN(po) {
		return Score{}, fmt.Errorf("online probability %g out of range", po)
	}
	return Score{
		Batch:    pb,
		Online:   po,
		Combined: w.Online*po + w.Batch*pb,
	}, nil
}

// Learn feeds one trusted label to the online learner.
func (e *Ensemble) Learn(v features.Vector, label int) error {
	return e.online.Update(v.Named(), label)
}
