// Package pending holds transactions waiting for OTP verification and review.
package pending

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
	"github.com/gyaneshwarpardhi/fraudguard/internal/otp"
	"github.com/gyaneshwarpardhi/fraudguard/internal/risk"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

var (
	ErrNotFound = errors.New("pending entry not found")
	ErrExists   = errors.New("pending entry already exists")
)

// Entry is a transaction awaiting adjudication.
type Entry struct {
	ID         string
	AccountID  string
	Seq        int
	Record     transaction.Record
	Features   features.Vector
	Assessment risk.Assessment
	Challenge  otp.Challenge
	// ChallengeRequired is false only for entries that were never routed to a challenge.
	ChallengeRequired bool
	CreatedAt         time.Time
}

// Summary is the read-only projection shown to reviewers.
type Summary struct {
	TransactionID     string          `json:"transaction_id"`
	AccountID         string          `json:"account_id"`
	Amount            decimal.Decimal `json:"amount"`
	DeviceID          string          `json:"device_id"`
	Location          string          `json:"location"`
	RiskScore         float64         `json:"risk_score"`
	RiskBand          risk.Band       `json:"risk_band"`
	BatchProbability  float64         `json:"batch_probability"`
	OnlineProbability float64         `json:"online_probability"`
	OTPRequired       bool            `json:"otp_required"`
	OTPVerified       bool            `json:"otp_verified"`
	OTPExpired        bool            `json:"otp_expired,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Summarize projects e as of now.
func (e Entry) Summarize(now time.Time) Summary {
	return Summary{
		TransactionID:     e.ID,
		AccountID:         e.AccountID,
		Amount:            e.Record.Amount,
		DeviceID:          e.Record.DeviceID,
		Location:          e.Record.Location,
		RiskScore:         e.Assessment.Score,
		RiskBand:          e.Assessment.Band,
		BatchProbability:  e.Assessment.BatchProbability,
		OnlineProbability: e.Assessment.OnlineProbability,
		OTPRequired:       e.ChallengeRequired,
		OTPVerified:       e.Challenge.Verified,
		OTPExpired:        e.ChallengeRequired && e.Challenge.Expired(now),
		CreatedAt:         e.CreatedAt,
	}
}

// TransactionID formats the account-scoped id.
func TransactionID(accountID string, seq int) string {
	return fmt.Sprintf("%s_%d", accountID, seq)
}

type table struct {
	mu      sync.Mutex
	lastSeq int
	entries map[string]*Entry
}

// Store is the shared pending table, partitioned by account.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) table(accountID string, create bool) *table {
	s.mu.RLock()
	t, ok := s.tables[accountID]
	s.mu.RUnlock()
	if ok || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tables[accountID]; ok {
		return t
	}
	t = &table{lastSeq: -1, entries: make(map[string]*Entry)}
	s.tables[accountID] = t
	return t
}

// Reserve allocates the next sequence number for accountID. Numbers are
// strictly increasing per account and never below historyLen.
func (s *Store) Reserve(accountID string, historyLen int) int {
	t := s.table(accountID, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.lastSeq + 1
	if historyLen > seq {
		seq = historyLen
	}
	t.lastSeq = seq
	return seq
}

// Insert adds e. An id may be pending at most once.
func (s *Store) Insert(e Entry) error {
	t := s.table(e.AccountID, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, e.ID)
	}
	cp := e
	t.entries[e.ID] = &cp
	return nil
}

// Get returns a copy of the entry.
func (s *Store) Get(accountID, id string) (Entry, error) {
	t := s.table(accountID, false)
	if t == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *e, nil
}

// Update applies fn to the entry under the table lock and returns the result.
// The entry is only changed when fn returns nil, unless fn also returns keep=true.
func (s *Store) Update(accountID, id string, fn func(e *Entry) (keep bool, err error)) (Entry, error) {
	t := s.table(accountID, false)
	if t == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := *cur
	keep, err := fn(&next)
	if err == nil || keep {
		*cur = next
	}
	return next, err
}

// Remove deletes the entry and returns it. Of several concurrent removals of
// one id exactly one succeeds; the rest get ErrNotFound.
func (s *Store) Remove(accountID, id string) (Entry, error) {
	t := s.table(accountID, false)
	if t == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(t.entries, id)
	return *e, nil
}

// List returns entries for accountID, or for every account when it is empty,
// sorted by account then sequence.
func (s *Store) List(accountID string) []Entry {
	var tables []*table
	s.mu.RLock()
	if accountID != "" {
		if t, ok := s.tables[accountID]; ok {
			tables = append(tables, t)
		}
	} else {
		for _, t := range s.tables {
			tables = append(tables, t)
		}
	}
	s.mu.RUnlock()

	var out []Entry
	for _, t := range tables {
		t.mu.Lock()
		for _, e := range t.entries {
			out = append(out, *e)
		}
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Len returns the number of pending entries across all accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tables {
		t.mu.Lock()
		n += len(t.entries)
		t.mu.Unlock()
	}
	return n
}
