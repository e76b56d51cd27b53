package pending

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudguard/internal/otp"
	"github.com/gyaneshwarpardhi/fraudguard/internal/risk"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

func entry(account string, seq int) Entry {
	return Entry{
		ID:                TransactionID(account, seq),
		AccountID:         account,
		Seq:               seq,
		Record:            transaction.Record{Amount: decimal.NewFromInt(700), DeviceID: "d1", Location: "Pune"},
		Assessment:        risk.Assessment{Score: 55, Band: risk.BandHigh, Action: risk.ActionChallenge},
		Challenge:         otp.Challenge{Code: "123456"},
		ChallengeRequired: true,
	}
}

func TestReserve_MonotonicAndHistoryAware(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.Reserve("u1", 0))
	assert.Equal(t, 1, s.Reserve("u1", 0))
	assert.Equal(t, 5, s.Reserve("u1", 5))
	assert.Equal(t, 6, s.Reserve("u1", 5))
	assert.Equal(t, 3, s.Reserve("u2", 3))
	assert.Equal(t, "u1_6", TransactionID("u1", 6))
}

func TestInsertGetRemove(t *testing.T) {
	s := NewStore()
	e := entry("u1", 0)
	require.NoError(t, s.Insert(e))
	assert.ErrorIs(t, s.Insert(e), ErrExists)
	assert.Equal(t, 1, s.Len())

	got, err := s.Get("u1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = s.Get("u2", e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := s.Remove("u1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, removed.ID)

	_, err = s.Remove("u1", e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestUpdate(t *testing.T) {
	s := NewStore()
	e := entry("u1", 0)
	require.NoError(t, s.Insert(e))

	got, err := s.Update("u1", e.ID, func(e *Entry) (bool, error) {
		e.Challenge.Verified = true
		return false, nil
	})
	require.NoError(t, err)
	assert.True(t, got.Challenge.Verified)

	boom := errors.New("boom")
	_, err = s.Update("u1", e.ID, func(e *Entry) (bool, error) {
		e.Challenge.Attempts = 9
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	stored, _ := s.Get("u1", e.ID)
	assert.Zero(t, stored.Challenge.Attempts)

	_, err = s.Update("u1", e.ID, func(e *Entry) (bool, error) {
		e.Challenge.Attempts = 3
		return true, boom
	})
	assert.ErrorIs(t, err, boom)
	stored, _ = s.Get("u1", e.ID)
	assert.Equal(t, 3, stored.Challenge.Attempts)

	_, err = s.Update("u1", "u1_99", func(*Entry) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(entry("u1", 0)))

	got, _ := s.Get("u1", "u1_0")
	got.Challenge.Verified = true

	again, _ := s.Get("u1", "u1_0")
	assert.False(t, again.Challenge.Verified)
}

func TestList_Sorted(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(entry("u2", 1)))
	require.NoError(t, s.Insert(entry("u1", 10)))
	require.NoError(t, s.Insert(entry("u1", 2)))

	var ids []string
	for _, e := range s.List("") {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"u1_2", "u1_10", "u2_1"}, ids)
	assert.Len(t, s.List("u1"), 2)
	assert.Empty(t, s.List("nobody"))
}

func TestSummarize(t *testing.T) {
	e := entry("u1", 0)
	e.Challenge.ExpiresAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sum := e.Summarize(e.Challenge.ExpiresAt.Add(time.Second))
	assert.Equal(t, "u1_0", sum.TransactionID)
	assert.Equal(t, risk.BandHigh, sum.RiskBand)
	assert.True(t, sum.OTPRequired)
	assert.False(t, sum.OTPVerified)
	assert.True(t, sum.OTPExpired)
}

func TestRemove_ConcurrentExactlyOnce(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Insert(entry("u1", 0)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Remove("u1", "u1_0"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestReserve_ConcurrentUnique(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq := s.Reserve("u1", 0)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 64)
}
