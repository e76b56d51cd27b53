// Package model holds the two risk classifiers and the ensemble that blends them.
package model

import (
	"errors"
	"fmt"
)

// ErrFeatureShape is returned when a caller violates the feature ordering contract.
var ErrFeatureShape = errors.New("feature vector does not match model shape")

// Sample is a labelled training row in features.Order.
type Sample struct {
	X     []float64
	Label int
}

// SeedSet is the offline training set the batch classifier ships with:
// normal student, normal salary, student fraud, business fraud.
var SeedSet = []Sample{
	{X: []float64{300, 1, 0, 0, 0.25, 0, 0}, Label: 0},
	{X: []float64{12000, 3, 0, 0, 0.8, 0, 0}, Label: 0},
	{X: []float64{5000, 3, 1, 1, 4.0, 1, 1}, Label: 1},
	{X: []float64{60000, 8, 1, 1, 3.0, 1, 1}, Label: 1},
}

// stump votes fraud when its feature crosses the midpoint between class means.
type stump struct {
	feature    int
	threshold  float64
	fraudAbove bool
}

func (s stump) vote(x []float64) bool {
	if s.fraudAbove {
		return x[s.feature] > s.threshold
	}
	return x[s.feature] < s.threshold
}

// BatchClassifier is a fixed committee of decision stumps fit once on a seed set.
// It is read-only after construction and safe for concurrent use.
type BatchClassifier struct {
	width  int
	stumps []stump
}

// TrainBatch fits one stump per feature that separates the two classes.
func TrainBatch(samples []Sample) (*BatchClassifier, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("train batch: no samples")
	}
	width := len(samples[0].X)
	var sums [2][]float64
	var counts [2]int
	sums[0] = make([]float64, width)
	sums[1] = make([]float64, width)
	for i, s := range samples {
		if len(s.X) != width {
			return nil, fmt.Errorf("train batch: sample %d: %w (want %d, got %d)", i, ErrFeatureShape, width, len(s.X))
		}
		if s.Label != 0 && s.Label != 1 {
			return nil, fmt.Errorf("train batch: sample %d: label must be 0 or 1, got %d", i, s.Label)
		}
		for j, x := range s.X {
			sums[s.Label][j] += x
		}
		counts[s.Label]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return nil, fmt.Errorf("train batch: both classes are required")
	}

	c := &BatchClassifier{width: width}
	for j := 0; j < width; j++ {
		legit := sums[0][j] / float64(counts[0])
		fraud := sums[1][j] / float64(counts[1])
		if legit == fraud {
			continue
		}
		c.stumps = append(c.stumps, stump{
			feature:    j,
			threshold:  (legit + fraud) / 2,
			fraudAbove: fraud > legit,
		})
	}
	if len(c.stumps) == 0 {
		return nil, fmt.Errorf("train batch: no feature separates the classes")
	}
	return c, nil
}

// MustTrainSeed fits the classifier on SeedSet.
func MustTrainSeed() *BatchClassifier {
	c, err := TrainBatch(SeedSet)
	if err != nil {
		panic(err)
	}
	return c
}

// PredictProbability returns P(fraud) as the Laplace-smoothed share of fraud votes.
func (c *BatchClassifier) PredictProbability(x []float64) (float64, error) {
	if len(x) != c.width {
		return 0, fmt.Errorf("batch classifier: %w (want %d, got %d)", ErrFeatureShape, c.width, len(x))
	}
	votes := 0
	for _, s := range c.stumps {
		if s.vote(x) {
			votes++
		}
	}
	return float64(votes+1) / float64(len(c.stumps)+2), nil
}
