// Package fraud runs the risk pipeline: feature extraction, ensemble scoring,
// policy routing, OTP challenges and adjudication with feedback learning.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/fraudguard/internal/directory"
	"github.com/gyaneshwarpardhi/fraudguard/internal/features"
	"github.com/gyaneshwarpardhi/fraudguard/internal/logging"
	"github.com/gyaneshwarpardhi/fraudguard/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudguard/internal/model"
	"github.com/gyaneshwarpardhi/fraudguard/internal/otp"
	"github.com/gyaneshwarpardhi/fraudguard/internal/pending"
	"github.com/gyaneshwarpardhi/fraudguard/internal/risk"
	"github.com/gyaneshwarpardhi/fraudguard/internal/syncutil"
	"github.com/gyaneshwarpardhi/fraudguard/internal/traces"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

// Status is the caller-facing state of an evaluated transaction.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusPending  Status = "PENDING_REVIEW"
	StatusBlocked  Status = "BLOCKED"
)

// Decision is a reviewer's final call on a pending transaction.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ParseDecision accepts APPROVE or REJECT in any case.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: decision must be APPROVE or REJECT, got %q", ErrInvalidInput, s)
}

// Evaluation is the result of EvaluateTransaction.
type Evaluation struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	RiskScore     float64         `json:"risk_score"`
	RiskBand      risk.Band       `json:"risk_band"`
	Action        risk.Action     `json:"action"`
	Status        Status          `json:"status"`
	OTPRequired   bool            `json:"otp_required"`
	OTPCode       string          `json:"otp_code,omitempty"`
	OTPExpiresAt  *time.Time      `json:"otp_expires_at,omitempty"`
	BlockReason   string          `json:"block_reason,omitempty"`
	Message       string          `json:"message,omitempty"`
	Assessment    risk.Assessment `json:"assessment"`
	Features      features.Vector `json:"features"`
	PolicyVersion string          `json:"policy_version"`
}

// Verification is the result of VerifyOtp.
type Verification struct {
	TransactionID string `json:"transaction_id"`
	Verified      bool   `json:"verified"`
	Attempts      int    `json:"attempts"`
}

// Adjudication is the result of Adjudicate.
type Adjudication struct {
	DecisionID    string            `json:"decision_id"`
	TransactionID string            `json:"transaction_id"`
	Decision      Decision          `json:"decision"`
	Label         transaction.Label `json:"label"`
	Saved         bool              `json:"saved"`
	Learned       bool              `json:"learned"`
	OTPVerified   bool              `json:"otp_verified"`
}

// Learner scores vectors and accepts trusted labels.
type Learner interface {
	risk.Scorer
	Learn(v features.Vector, label int) error
}

// Service is safe for concurrent use.
type Service struct {
	dir     directory.Directory
	models  Learner
	pending *pending.Store
	locks   *syncutil.KeyedMutex
	policy  atomic.Pointer[Policy]
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPendingStore shares an existing pending table.
func WithPendingStore(p *pending.Store) Option {
	return func(s *Service) { s.pending = p }
}

// NewService wires the pipeline. models is usually a *model.Ensemble.
func NewService(dir directory.Directory, models Learner, p *Policy, opts ...Option) *Service {
	s := &Service{
		dir:     dir,
		models:  models,
		pending: pending.NewStore(),
		locks:   syncutil.NewKeyedMutex(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.policy.Store(p)
	return s
}

var _ Learner = (*model.Ensemble)(nil)

// SwapPolicy atomically replaces the active policy. In-flight requests keep
// the snapshot they loaded.
func (s *Service) SwapPolicy(p *Policy) {
	s.policy.Store(p)
}

// Policy returns the active snapshot.
func (s *Service) Policy() *Policy {
	return s.policy.Load()
}

// PendingCount returns the number of transactions awaiting adjudication.
func (s *Service) PendingCount() int {
	return s.pending.Len()
}

func (s *Service) lock(ctx context.Context, accountID string) (func(), error) {
	return s.locks.LockContext(ctx, accountID)
}

// Evaluate scores a transaction and routes it. Auto-approved and blocked
// transactions are committed to history immediately; challenged ones wait in
// the pending table.
func (s *Service) Evaluate(ctx context.Context, req transaction.Request) (Evaluation, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "fraud.evaluate",
		traces.AccountID(req.AccountID), traces.Amount(req.Amount.String()))
	defer span.End()

	ev, err := s.evaluate(ctx, req)
	if err != nil {
		traces.RecordError(span, err)
		metrics.EvaluationErrors.WithLabelValues(errorKind(err)).Inc()
		logging.L(ctx).Warn("evaluation failed", "account_id", req.AccountID, "error", err)
		return Evaluation{}, err
	}

	span.SetAttributes(traces.TransactionID(ev.TransactionID), traces.RiskScore(ev.RiskScore),
		traces.RiskBand(string(ev.RiskBand)), traces.Action(string(ev.Action)))
	metrics.Evaluations.WithLabelValues(string(ev.RiskBand), string(ev.Action)).Inc()
	metrics.RiskScore.Observe(ev.RiskScore)
	metrics.EvaluationDuration.Observe(durationMs(time.Since(start)))
	for _, b := range ev.Assessment.Boosts {
		metrics.BoostsApplied.WithLabelValues(b.RuleID).Inc()
	}

	logging.L(ctx).Info("transaction evaluated",
		"account_id", ev.AccountID,
		"transaction_id", ev.TransactionID,
		"risk_score", ev.RiskScore,
		"risk_band", ev.RiskBand,
		"action", ev.Action,
	)
	return ev, nil
}

func (s *Service) evaluate(ctx context.Context, req transaction.Request) (Evaluation, error) {
	p := s.policy.Load()
	now := s.now().UTC()

	ts, err := req.Validate(now)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	unlock, err := s.lock(ctx, req.AccountID)
	if err != nil {
		return Evaluation{}, err
	}
	defer unlock()

	acct, err := s.dir.GetAccount(ctx, req.AccountID)
	if err != nil {
		return Evaluation{}, s.directoryErr("get account", req.AccountID, err)
	}
	history, err := s.dir.History(ctx, req.AccountID)
	if err != nil {
		return Evaluation{}, s.directoryErr("read history", req.AccountID, err)
	}

	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = transaction.UnknownLocation
		if n := len(history); n > 0 && history[n-1].Location != "" {
			location = history[n-1].Location
		}
	}
	rec := transaction.Record{
		Amount:    req.Amount,
		DeviceID:  req.DeviceID,
		Location:  location,
		Timestamp: ts,
	}

	v, err := features.Extract(p.Features, features.Candidate{Record: rec, Account: acct}, history)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	a, err := p.Risk.Assess(v, s.models)
	if err != nil {
		return Evaluation{}, fmt.Errorf("assess transaction: %w", err)
	}

	seq := s.pending.Reserve(acct.ID, len(history))
	rec.TransactionID = pending.TransactionID(acct.ID, seq)

	ev := Evaluation{
		TransactionID: rec.TransactionID,
		AccountID:     acct.ID,
		RiskScore:     a.Score,
		RiskBand:      a.Band,
		Action:        a.Action,
		Assessment:    a,
		Features:      v,
		PolicyVersion: p.Version,
	}

	switch a.Action {
	case risk.ActionAutoApprove, risk.ActionMonitor:
		rec = rec.Resolve(transaction.LabelLegit, transaction.SourceAuto)
		rec.Monitored = a.Action == risk.ActionMonitor
		if err := s.commit(ctx, acct.ID, rec); err != nil {
			return Evaluation{}, err
		}
		if rec.Monitored {
			metrics.Monitored.Inc()
		}
		ev.Status = StatusApproved
		s.learnAuto(ctx, p, v, transaction.LabelLegit)

	case risk.ActionBlock:
		rec = rec.Resolve(transaction.LabelFraud, transaction.SourceAuto)
		rec.BlockReason = transaction.BlockHighRisk
		ev.Message = fmt.Sprintf("Transaction blocked: risk score %.2f exceeds the allowed threshold", a.Score)
		if v.AccountLimitExceeded == 1 {
			rec.BlockReason = transaction.BlockAccountLimit
			ev.Message = fmt.Sprintf("Transaction blocked: amount %s exceeds the %s account limit of %s",
				req.Amount.String(), v.Meta.AccountType, strconv.FormatFloat(v.Meta.AccountLimit, 'f', -1, 64))
		}
		if err := s.commit(ctx, acct.ID, rec); err != nil {
			return Evaluation{}, err
		}
		ev.Status = StatusBlocked
		ev.BlockReason = rec.BlockReason
		s.learnAuto(ctx, p, v, transaction.LabelFraud)

	default:
		challenge, err := otp.NewManager(p.OTP, s.now).Issue()
		if err != nil {
			return Evaluation{}, err
		}
		entry := pending.Entry{
			ID:                rec.TransactionID,
			AccountID:         acct.ID,
			Seq:               seq,
			Record:            rec,
			Features:          v,
			Assessment:        a,
			Challenge:         challenge,
			ChallengeRequired: true,
			CreatedAt:         now,
		}
		if err := s.pending.Insert(entry); err != nil {
			return Evaluation{}, err
		}
		metrics.PendingEntries.Set(float64(s.pending.Len()))

		ev.Status = StatusPending
		ev.OTPRequired = true
		if p.ExposeCode {
			ev.OTPCode = challenge.Code
		}
		if !challenge.ExpiresAt.IsZero() {
			exp := challenge.ExpiresAt
			ev.OTPExpiresAt = &exp
		}
	}
	return ev, nil
}

// VerifyOtp checks a code for a pending transaction. A wrong or expired code
// returns ErrInvalidOtp and leaves the entry pending.
func (s *Service) VerifyOtp(ctx context.Context, accountID, txnID, code string) (Verification, error) {
	ctx, span := traces.StartSpan(ctx, "fraud.verify_otp",
		traces.AccountID(accountID), traces.TransactionID(txnID))
	defer span.End()

	if _, err := s.dir.GetAccount(ctx, accountID); err != nil {
		return Verification{}, s.directoryErr("get account", accountID, err)
	}

	unlock, err := s.lock(ctx, accountID)
	if err != nil {
		return Verification{}, err
	}
	defer unlock()

	mgr := otp.NewManager(s.policy.Load().OTP, s.now)
	e, err := s.pending.Update(accountID, txnID, func(e *pending.Entry) (bool, error) {
		if err := mgr.Verify(&e.Challenge, strings.TrimSpace(code)); err != nil {
			return true, err
		}
		verified := true
		e.Record.OTPVerified = &verified
		return false, nil
	})

	res := Verification{TransactionID: txnID, Verified: e.Challenge.Verified, Attempts: e.Challenge.Attempts}
	switch {
	case err == nil:
		metrics.OTPVerifications.WithLabelValues("verified").Inc()
		logging.L(ctx).Info("otp verified", "account_id", accountID, "transaction_id", txnID)
		return res, nil
	case errors.Is(err, pending.ErrNotFound):
		err = fmt.Errorf("%w: %s", ErrNotFound, txnID)
	case errors.Is(err, otp.ErrExpired):
		metrics.OTPVerifications.WithLabelValues("expired").Inc()
		err = fmt.Errorf("%w: expired", ErrInvalidOtp)
	case errors.Is(err, otp.ErrMismatch):
		metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
		err = fmt.Errorf("%w: code mismatch", ErrInvalidOtp)
	}
	traces.RecordError(span, err)
	logging.L(ctx).Info("otp verification failed",
		"account_id", accountID, "transaction_id", txnID, "attempts", res.Attempts, "error", err)
	return res, err
}

// Adjudicate applies a final decision to a pending transaction, commits it to
// history and, for OTP-verified entries only, trains the online learner.
// Each entry resolves exactly once; later calls get ErrNotFound.
func (s *Service) Adjudicate(ctx context.Context, accountID, txnID string, d Decision) (Adjudication, error) {
	ctx, span := traces.StartSpan(ctx, "fraud.adjudicate",
		traces.AccountID(accountID), traces.TransactionID(txnID), traces.Decision(string(d)))
	defer span.End()

	res, err := s.adjudicate(ctx, accountID, txnID, d)
	if err != nil {
		traces.RecordError(span, err)
		logging.L(ctx).Info("adjudication refused",
			"account_id", accountID, "transaction_id", txnID, "decision", d, "error", err)
		return Adjudication{}, err
	}

	metrics.Adjudications.WithLabelValues(string(d), strconv.FormatBool(res.OTPVerified)).Inc()
	metrics.PendingEntries.Set(float64(s.pending.Len()))
	logging.L(ctx).Info("transaction adjudicated",
		"account_id", accountID,
		"transaction_id", txnID,
		"decision", d,
		"label", int(res.Label),
		"learned", res.Learned,
	)
	return res, nil
}

func (s *Service) adjudicate(ctx context.Context, accountID, txnID string, d Decision) (Adjudication, error) {
	if d != DecisionApprove && d != DecisionReject {
		return Adjudication{}, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, d)
	}

	if _, err := s.dir.GetAccount(ctx, accountID); err != nil {
		return Adjudication{}, s.directoryErr("get account", accountID, err)
	}

	unlock, err := s.lock(ctx, accountID)
	if err != nil {
		return Adjudication{}, err
	}
	defer unlock()

	e, err := s.pending.Get(accountID, txnID)
	if err != nil {
		return Adjudication{}, fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}

	verified := e.Challenge.Verified
	if d == DecisionApprove && e.ChallengeRequired && !verified {
		return Adjudication{}, fmt.Errorf("%w: %s", ErrChallengeRequired, txnID)
	}

	label := transaction.LabelLegit
	if d == DecisionReject {
		label = transaction.LabelFraud
	}
	rec := e.Record.Resolve(label, transaction.SourceAdmin)
	rec.OTPVerified = &verified

	if err := s.commit(ctx, accountID, rec); err != nil {
		return Adjudication{}, err
	}
	if _, err := s.pending.Remove(accountID, txnID); err != nil {
		return Adjudication{}, fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}

	res := Adjudication{
		DecisionID:    uuid.NewString(),
		TransactionID: txnID,
		Decision:      d,
		Label:         label,
		Saved:         true,
		OTPVerified:   verified,
	}
	if verified {
		if err := s.models.Learn(e.Features, int(label)); err != nil {
			logging.L(ctx).Error("online learner update failed", "transaction_id", txnID, "error", err)
		} else {
			res.Learned = true
			metrics.LearnerUpdates.WithLabelValues("otp_verified").Inc()
		}
	}
	return res, nil
}

// ListPending returns reviewer summaries, optionally for one account.
func (s *Service) ListPending(ctx context.Context, accountID string) ([]pending.Summary, error) {
	if accountID != "" {
		if _, err := s.dir.GetAccount(ctx, accountID); err != nil {
			return nil, s.directoryErr("get account", accountID, err)
		}
	}
	now := s.now().UTC()
	entries := s.pending.List(accountID)
	out := make([]pending.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summarize(now))
	}
	return out, nil
}

// History returns the committed history of an account.
func (s *Service) History(ctx context.Context, accountID string) ([]transaction.Record, error) {
	h, err := s.dir.History(ctx, accountID)
	if err != nil {
		return nil, s.directoryErr("read history", accountID, err)
	}
	if h == nil {
		h = []transaction.Record{}
	}
	return h, nil
}

// ListAccounts returns every account in the directory.
func (s *Service) ListAccounts(ctx context.Context) ([]transaction.Account, error) {
	accts, err := s.dir.ListAccounts(ctx)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	return accts, nil
}

func (s *Service) commit(ctx context.Context, accountID string, rec transaction.Record) error {
	if _, err := directory.Commit(ctx, s.dir, accountID, rec); err != nil {
		logging.L(ctx).Error("history commit failed",
			"account_id", accountID, "transaction_id", rec.TransactionID, "error", err)
		return s.directoryErr("commit", accountID, err)
	}
	return nil
}

func (s *Service) learnAuto(ctx context.Context, p *Policy, v features.Vector, label transaction.Label) {
	if !p.LearnFromAuto {
		return
	}
	if err := s.models.Learn(v, int(label)); err != nil {
		logging.L(ctx).Error("online learner update failed", "error", err)
		return
	}
	metrics.LearnerUpdates.WithLabelValues("auto").Inc()
}

func (s *Service) directoryErr(op, accountID string, err error) error {
	if errors.Is(err, directory.ErrAccountNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return storageErr(op, err)
}

// durationMs keeps sub-millisecond precision.
func durationMs(d time.Duration) float64 {
	return d.Seconds() * 1000
}

func errorKind(err error) string {
	var se *StorageError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnknownAccount):
		return "unknown_account"
	case errors.As(err, &se):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "model"
	}
}
