package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

type accountState struct {
	account transaction.Account
	history []transaction.Record
}

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

// NewMemory returns an empty directory.
func NewMemory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]*accountState)}
}

// Put creates or replaces an account together with its history.
func (m *MemoryDirectory) Put(acct transaction.Account, history ...transaction.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = &accountState{
		account: acct,
		history: append([]transaction.Record(nil), history...),
	}
}

func (m *MemoryDirectory) GetAccount(_ context.Context, accountID string) (transaction.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.accounts[accountID]
	if !ok {
		return transaction.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return st.account, nil
}

func (m *MemoryDirectory) SaveAccount(_ context.Context, acct transaction.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.accounts[acct.ID]; ok {
		st.account = acct
		return nil
	}
	m.accounts[acct.ID] = &accountState{account: acct}
	return nil
}

func (m *MemoryDirectory) AppendHistory(_ context.Context, accountID string, rec transaction.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	st.history = append(st.history, rec)
	return nil
}

func (m *MemoryDirectory) History(_ context.Context, accountID string) ([]transaction.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return append([]transaction.Record(nil), st.history...), nil
}

func (m *MemoryDirectory) ListAccounts(_ context.Context) ([]transaction.Account, error) {
	m.mu.RLock()
	out := make([]transaction.Account, 0, len(m.accounts))
	for _, st := range m.accounts {
		out = append(out, st.account)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit implements Committer under the directory write lock.
func (m *MemoryDirectory) Commit(_ context.Context, accountID string, rec transaction.Record) (transaction.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.accounts[accountID]
	if !ok {
		return transaction.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	st.history = append(st.history, rec)
	st.account.AverageAmount = transaction.Mean(st.history)
	return st.account, nil
}

// -----------------------------------------------------------------------
// JSON seed
// -----------------------------------------------------------------------

type seedFile struct {
	Users []seedUser `json:"users"`
}

type seedUser struct {
	UserID      string `json:"user_id"`
	AccountType string `json:"account_type"`
	Profile     struct {
		AccountType string           `json:"account_type"`
		AvgAmount   *decimal.Decimal `json:"avg_amount"`
	} `json:"profile"`
	History []seedRecord `json:"history"`
}

type seedRecord struct {
	Amount    decimal.Decimal `json:"amount"`
	DeviceID  string          `json:"device_id"`
	Location  string          `json:"location"`
	Timestamp string          `json:"timestamp"`
	Fraud     *int            `json:"fraud"`
}

var seedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseSeedTime(s string) (time.Time, error) {
	for _, layout := range seedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LoadSeed reads a {"users": [...]} document into a new MemoryDirectory.
// A missing profile average is derived from the seeded history.
func LoadSeed(r io.Reader) (*MemoryDirectory, error) {
	var doc seedFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	m := NewMemory()
	for i, u := range doc.Users {
		if u.UserID == "" {
			return nil, fmt.Errorf("seed users[%d]: user_id is required", i)
		}
		typ := u.AccountType
		if typ == "" {
			typ = u.Profile.AccountType
		}

		history := make([]transaction.Record, 0, len(u.History))
		for j, h := range u.History {
			ts, err := parseSeedTime(h.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("seed %s history[%d]: %w", u.UserID, j, err)
			}
			rec := transaction.Record{
				TransactionID: fmt.Sprintf("%s_%d", u.UserID, j),
				Amount:        h.Amount,
				DeviceID:      h.DeviceID,
				Location:      h.Location,
				Timestamp:     ts,
			}
			if h.Fraud != nil {
				rec = rec.Resolve(transaction.Label(*h.Fraud), transaction.SourceAuto)
			}
			history = append(history, rec)
		}

		avg := transaction.Mean(history)
		if u.Profile.AvgAmount != nil {
			avg = *u.Profile.AvgAmount
		}
		m.Put(transaction.Account{
			ID:            u.UserID,
			Type:          strings.ToUpper(typ),
			AverageAmount: avg,
		}, history...)
	}
	return m, nil
}

// LoadSeedFile opens path and calls LoadSeed.
func LoadSeedFile(path string) (*MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}
