package model

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultLearningRate is the SGD step for both weights and intercept.
const DefaultLearningRate = 0.01

// runningStat tracks mean and variance with Welford's update.
type runningStat struct {
	n    float64
	mean float64
	m2   float64
}

func (r *runningStat) add(x float64) {
	r.n++
	d := x - r.mean
	r.mean += d / r.n
	r.m2 += d * (x - r.mean)
}

func (r *runningStat) scale(x float64) float64 {
	if r.n == 0 {
		return 0
	}
	variance := r.m2 / r.n
	if variance <= 0 {
		return 0
	}
	return (x - r.mean) / math.Sqrt(variance)
}

// OnlineLearner is a logistic regression over standardised features, trained one
// labelled example at a time. Updates take the write lock, predictions the read lock,
// so a prediction never observes a half-applied step.
type OnlineLearner struct {
	mu      sync.RWMutex
	lr      float64
	stats   map[string]*runningStat
	weights map[string]float64
	bias    float64
	updates int
}

// NewOnlineLearner creates an untrained learner; it predicts 0.5 until updated.
func NewOnlineLearner(lr float64) *OnlineLearner {
	if lr <= 0 {
		lr = DefaultLearningRate
	}
	return &OnlineLearner{
		lr:      lr,
		stats:   make(map[string]*runningStat),
		weights: make(map[string]float64),
	}
}

// PredictProbability returns P(fraud | x).
func (l *OnlineLearner) PredictProbability(x map[string]float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sigmoid(l.dot(l.standardise(x)))
}

// Update applies one SGD step with the given 0/1 label.
func (l *OnlineLearner) Update(x map[string]float64, label int) error {
	if label != 0 && label != 1 {
		return fmt.Errorf("online learner: label must be 0 or 1, got %d", label)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, v := range x {
		st, ok := l.stats[name]
		if !ok {
			st = &runningStat{}
			l.stats[name] = st
		}
		st.add(v)
	}
	z := l.standardise(x)
	g := sigmoid(l.dot(z)) - float64(label)
	for name, v := range z {
		l.weights[name] -= l.lr * g * v
	}
	l.bias -= l.lr * g
	l.updates++
	return nil
}

// Updates reports how many training steps have been applied.
func (l *OnlineLearner) Updates() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updates
}

// State is a point-in-time copy of the learner's parameters.
type State struct {
	Updates int                `json:"updates"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
	Means   map[string]float64 `json:"means"`
}

// Snapshot copies the current parameters.
func (l *OnlineLearner) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := State{
		Updates: l.updates,
		Bias:    l.bias,
		Weights: make(map[string]float64, len(l.weights)),
		Means:   make(map[string]float64, len(l.stats)),
	}
	for k, v := range l.weights {
		s.Weights[k] = v
	}
	for k, st := range l.stats {
		s.Means[k] = st.mean
	}
	return s
}

// caller holds l.mu
func (l *OnlineLearner) standardise(x map[string]float64) map[string]float64 {
	z := make(map[string]float64, len(x))
	for name, v := range x {
		if st, ok := l.stats[name]; ok {
			z[name] = st.scale(v)
		} else {
			z[name] = 0
		}
	}
	return z
}

// caller holds l.mu; summed in key order so results are reproducible
func (l *OnlineLearner) dot(z map[string]float64) float64 {
	keys := make([]string, 0, len(z))
	for k := range z {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sum := l.bias
	for _, k := range keys {
		sum += l.weights[k] * z[k]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
