package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
	"github.com/gyaneshwarpardhi/fraudguard/migrations"
)

// PostgresDirectory implements Directory and Committer with PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed directory.
func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Migrate applies the embedded goose migrations.
func (p *PostgresDirectory) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, p.db, ".")
}

// Ping checks connectivity.
func (p *PostgresDirectory) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDirectory) GetAccount(ctx context.Context, accountID string) (transaction.Account, error) {
	acct := transaction.Account{ID: accountID}
	err := p.db.QueryRowContext(ctx, `
		SELECT account_type, average_amount FROM accounts WHERE account_id = $1
	`, accountID).Scan(&acct.Type, &acct.AverageAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return transaction.Account{}, err
	}
	return acct, nil
}

func (p *PostgresDirectory) SaveAccount(ctx context.Context, acct transaction.Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, account_type, average_amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			account_type   = EXCLUDED.account_type,
			average_amount = EXCLUDED.average_amount,
			updated_at     = NOW()
	`, acct.ID, acct.Type, acct.AverageAmount)
	return err
}

func (p *PostgresDirectory) AppendHistory(ctx context.Context, accountID string, rec transaction.Record) error {
	return insertRecord(ctx, p.db, accountID, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, accountID string, rec transaction.Record) error {
	var fraud sql.NullInt16
	if rec.Fraud != nil {
		fraud = sql.NullInt16{Int16: int16(*rec.Fraud), Valid: true}
	}
	var verified sql.NullBool
	if rec.OTPVerified != nil {
		verified = sql.NullBool{Bool: *rec.OTPVerified, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (account_id, transaction_id, amount, device_id, location, occurred_at,
			fraud, block_reason, decision_source, otp_verified, monitored)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, accountID, rec.TransactionID, rec.Amount, rec.DeviceID, rec.Location, rec.Timestamp,
		fraud, rec.BlockReason, string(rec.DecisionSource), verified, rec.Monitored)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (p *PostgresDirectory) History(ctx context.Context, accountID string) ([]transaction.Record, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE account_id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT transaction_id, amount, device_id, location, occurred_at,
			fraud, block_reason, decision_source, otp_verified, monitored
		FROM transactions WHERE account_id = $1 ORDER BY id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transaction.Record
	for rows.Next() {
		var (
			rec      transaction.Record
			fraud    sql.NullInt16
			source   string
			verified sql.NullBool
		)
		if err := rows.Scan(&rec.TransactionID, &rec.Amount, &rec.DeviceID, &rec.Location, &rec.Timestamp,
			&fraud, &rec.BlockReason, &source, &verified, &rec.Monitored); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.DecisionSource = transaction.DecisionSource(source)
		if fraud.Valid {
			l := transaction.Label(fraud.Int16)
			rec.Fraud = &l
		}
		if verified.Valid {
			v := verified.Bool
			rec.OTPVerified = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresDirectory) ListAccounts(ctx context.Context) ([]transaction.Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT account_id, account_type, average_amount FROM accounts ORDER BY account_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transaction.Account
	for rows.Next() {
		var a transaction.Account
		if err := rows.Scan(&a.ID, &a.Type, &a.AverageAmount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Commit appends rec and recomputes the average from the full history in one
// SQL transaction, holding the account row lock throughout.
func (p *PostgresDirectory) Commit(ctx context.Context, accountID string, rec transaction.Record) (transaction.Account, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return transaction.Account{}, err
	}
	defer tx.Rollback()

	acct := transaction.Account{ID: accountID}
	err = tx.QueryRowContext(ctx, `
		SELECT account_type FROM accounts WHERE account_id = $1 FOR UPDATE
	`, accountID).Scan(&acct.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return transaction.Account{}, fmt.Errorf("failed to lock account: %w", err)
	}

	if err := insertRecord(ctx, tx, accountID, rec); err != nil {
		return transaction.Account{}, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET
			average_amount = (SELECT AVG(amount) FROM transactions WHERE account_id = $1),
			updated_at     = NOW()
		WHERE account_id = $1
		RETURNING average_amount
	`, accountID).Scan(&acct.AverageAmount)
	if err != nil {
		return transaction.Account{}, fmt.Errorf("failed to update average: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return transaction.Account{}, err
	}
	return acct, nil
}
