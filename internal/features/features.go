// Package features derives the fixed-width numeric vector that both risk models
// consume from a candidate transaction and its account context.
package features

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

// Feature names, in the order the batch classifier was trained on.
const (
	Amount               = "amount"
	Velocity             = "txn_velocity"
	DeviceChange         = "device_change"
	LocationChange       = "location_change"
	AmountRatio          = "amount_ratio"
	AccountLimitExceeded = "account_limit_exceeded"
	RapidTransaction     = "rapid_txn"
)

// Order is the stable feature ordering contract of the batch classifier.
var Order = []string{
	Amount,
	Velocity,
	DeviceChange,
	LocationChange,
	AmountRatio,
	AccountLimitExceeded,
	RapidTransaction,
}

// Defaults.
const (
	DefaultVelocityWindow = 10 * time.Minute
	DefaultRapidThreshold = 5
	DefaultLimit          = 5000.0
)

var tenDecimal = decimal.NewFromInt(10)

// ErrInvalidInput is returned when the candidate cannot be featurised.
var ErrInvalidInput = errors.New("invalid feature input")

// Config tunes extraction.
type Config struct {
	VelocityWindow time.Duration
	RapidThreshold int
	Limits         Limits
}

// DefaultConfig returns the stock extraction settings.
func DefaultConfig() Config {
	return Config{
		VelocityWindow: DefaultVelocityWindow,
		RapidThreshold: DefaultRapidThreshold,
		Limits:         DefaultLimits(),
	}
}

// Limits maps account types to their per-transaction amount ceiling.
type Limits struct {
	ByType  map[string]float64
	Default float64
}

// DefaultLimits returns the stock limit table.
func DefaultLimits() Limits {
	return Limits{
		ByType: map[string]float64{
			"STUDENT":  5000,
			"SALARY":   25000,
			"BUSINESS": 50000,
		},
		Default: DefaultLimit,
	}
}

// For returns the limit for accountType; unknown types get the default.
func (l Limits) For(accountType string) float64 {
	if v, ok := l.ByType[strings.ToUpper(accountType)]; ok {
		return v
	}
	if l.Default <= 0 {
		return DefaultLimit
	}
	return l.Default
}

// Meta travels with a Vector but is never fed to a model.
type Meta struct {
	AccountType  string  `json:"account_type"`
	AccountLimit float64 `json:"account_limit"`
	// Remainder10 is amount mod 10, computed exactly on the decimal amount.
	Remainder10 float64 `json:"amount_mod_10"`
}

// Vector is the per-evaluation feature set.
type Vector struct {
	Amount               float64 `json:"amount"`
	Velocity             int     `json:"txn_velocity"`
	DeviceChange         int     `json:"device_change"`
	LocationChange       int     `json:"location_change"`
	AmountRatio          float64 `json:"amount_ratio"`
	AccountLimitExceeded int     `json:"account_limit_exceeded"`
	RapidTransaction     int     `json:"rapid_txn"`
	Meta                 Meta    `json:"meta"`
}

// Ordered returns the model features in Order.
func (v Vector) Ordered() []float64 {
	return []float64{
		v.Amount,
		float64(v.Velocity),
		float64(v.DeviceChange),
		float64(v.LocationChange),
		v.AmountRatio,
		float64(v.AccountLimitExceeded),
		float64(v.RapidTransaction),
	}
}

// Named returns the model features keyed by name. Meta is excluded.
func (v Vector) Named() map[string]float64 {
	ordered := v.Ordered()
	out := make(map[string]float64, len(Order))
	for i, name := range Order {
		out[name] = ordered[i]
	}
	return out
}

// Candidate is the transaction being evaluated.
type Candidate struct {
	Record  transaction.Record
	Account transaction.Account
}

// Extract computes the feature vector for c against history.
// It is a pure function of its inputs.
func Extract(cfg Config, c Candidate, history []transaction.Record) (Vector, error) {
	rec := c.Record
	if !rec.Amount.IsPositive() {
		return Vector{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidInput, rec.Amount)
	}
	if rec.Timestamp.IsZero() {
		return Vector{}, fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}

	window := cfg.VelocityWindow
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	threshold := cfg.RapidThreshold
	if threshold <= 0 {
		threshold = DefaultRapidThreshold
	}

	amount := rec.Amount.InexactFloat64()
	cutoff := rec.Timestamp.Add(-window)

	velocity := 0
	devices := make(map[string]struct{}, len(history))
	locations := make(map[string]struct{}, len(history))
	for _, h := range history {
		if !h.Timestamp.Before(cutoff) && !h.Timestamp.After(rec.Timestamp) {
			velocity++
		}
		devices[h.DeviceID] = struct{}{}
		locations[h.Location] = struct{}{}
	}

	v := Vector{
		Amount:      amount,
		Velocity:    velocity,
		AmountRatio: 1,
	}
	if len(history) > 0 {
		if _, seen := devices[rec.DeviceID]; !seen {
			v.DeviceChange = 1
		}
		if _, seen := locations[rec.Location]; !seen {
			v.LocationChange = 1
		}
	}
	if avg := c.Account.AverageAmount; avg.IsPositive() {
		v.AmountRatio = rec.Amount.Div(avg).InexactFloat64()
	}
	if velocity > threshold {
		v.RapidTransaction = 1
	}

	limit := cfg.Limits.For(c.Account.Type)
	if amount > limit {
		v.AccountLimitExceeded = 1
	}
	v.Meta = Meta{
		AccountType:  strings.ToUpper(c.Account.Type),
		AccountLimit: limit,
		Remainder10:  rec.Amount.Mod(tenDecimal).InexactFloat64(),
	}
	return v, nil
}
