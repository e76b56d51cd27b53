package transaction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownLocation is recorded when neither the request nor the history names a location.
const UnknownLocation = "UNKNOWN"

// Label is the resolved fraud outcome of a transaction.
type Label int

const (
	LabelLegit Label = 0
	LabelFraud Label = 1
)

// DecisionSource tags who resolved a transaction.
type DecisionSource string

const (
	SourceAuto  DecisionSource = "auto"
	SourceAdmin DecisionSource = "admin"
)

// Block reasons recorded on auto-blocked transactions.
const (
	BlockAccountLimit = "ACCOUNT_LIMIT_EXCEEDED"
	BlockHighRisk     = "HIGH_RISK_SCORE"
)

// Account is the directory's view of a customer account.
// Only AverageAmount is mutated by the pipeline.
type Account struct {
	ID            string          `json:"account_id"`
	Type          string          `json:"account_type"`
	AverageAmount decimal.Decimal `json:"average_amount"`
}

// Record is an entry of an account's append-only history.
type Record struct {
	TransactionID  string          `json:"transaction_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	DeviceID       string          `json:"device_id"`
	Location       string          `json:"location"`
	Timestamp      time.Time       `json:"timestamp"`
	Fraud          *Label          `json:"fraud,omitempty"`
	BlockReason    string          `json:"block_reason,omitempty"`
	DecisionSource DecisionSource  `json:"decision_source,omitempty"`
	OTPVerified    *bool           `json:"otp_verified,omitempty"`
	Monitored      bool            `json:"monitored,omitempty"`
}

// Resolve stamps the record with its final outcome.
func (r Record) Resolve(label Label, source DecisionSource) Record {
	l := label
	r.Fraud = &l
	r.DecisionSource = source
	return r
}

// Amounts must fit the directory's NUMERIC(20,6) column.
const (
	MaxAmountScale         = 6
	MaxAmountIntegerDigits = 14
)

var maxAmount = decimal.New(1, MaxAmountIntegerDigits)

// ErrInvalidRequest is returned by Request.Validate.
var ErrInvalidRequest = errors.New("invalid transaction request")

// Request is the typed evaluation payload. Location and Timestamp are optional.
type Request struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	DeviceID  string          `json:"device_id"`
	Location  string          `json:"location,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Validate checks required fields and returns the parsed timestamp,
// falling back to now when none was supplied.
func (r Request) Validate(now time.Time) (time.Time, error) {
	var problems []string
	if strings.TrimSpace(r.AccountID) == "" {
		problems = append(problems, "account_id is required")
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		problems = append(problems, "device_id is required")
	}
	switch {
	case !r.Amount.IsPositive():
		problems = append(problems, "amount must be positive")
	case !r.Amount.Equal(r.Amount.Truncate(MaxAmountScale)):
		problems = append(problems, fmt.Sprintf("amount must have at most %d decimal places", MaxAmountScale))
	case r.Amount.GreaterThanOrEqual(maxAmount):
		problems = append(problems, fmt.Sprintf("amount must be below %s", maxAmount.String()))
	}
	ts := now
	if r.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			problems = append(problems, fmt.Sprintf("timestamp %q is not RFC 3339", r.Timestamp))
		} else {
			ts = parsed
		}
	}
	if len(problems) > 0 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return ts.UTC(), nil
}

// Mean returns the arithmetic mean of every amount in history, zero when empty.
func Mean(history []Record) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, h := range history {
		sum = sum.Add(h.Amount)
	}
	return sum.Div(decimal.NewFromInt(int64(len(history))))
}
