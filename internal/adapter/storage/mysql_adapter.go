package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

var ErrDuplicateSubmission = errors.New("submission already recorded")

const submissionsSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	id            VARCHAR(36)  NOT NULL PRIMARY KEY,
	tx_hash       VARCHAR(66)  NOT NULL,
	account       VARCHAR(42)  NOT NULL,
	sequence      BIGINT UNSIGNED NOT NULL,
	kind          VARCHAR(16)  NOT NULL,
	product_id    VARCHAR(255) NOT NULL,
	serial_number VARCHAR(255) NOT NULL,
	status        VARCHAR(16)  NOT NULL,
	block_number  BIGINT UNSIGNED NOT NULL DEFAULT 0,
	created_at    DATETIME(6)  NOT NULL,
	updated_at    DATETIME(6)  NOT NULL,
	UNIQUE KEY uq_submissions_tx_hash (tx_hash),
	KEY idx_submissions_status (status, created_at)
)`

// MySQLAdapter is the submission journal. The DSN needs parseTime=true.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, submissionsSchema); err != nil {
		return fmt.Errorf("create submissions table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) Record(ctx context.Context, sub domain.Submission) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO submissions
			(id, tx_hash, account, sequence, kind, product_id, serial_number, status, block_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TxHash, sub.Account, sub.Sequence, sub.Kind, sub.ProductID, sub.SerialNumber,
		sub.Status, sub.BlockNumber, sub.CreatedAt, sub.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSubmission, sub.TxHash)
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Resolve(ctx context.Context, txHash string, status domain.SubmissionStatus, blockNumber uint64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = ?, block_number = ?, updated_at = ?
		WHERE tx_hash = ? AND status IN ('pending', 'unknown')`,
		status, blockNumber, time.Now().UTC(), txHash,
	)
	if err != nil {
		return false, fmt.Errorf("resolve submission: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) MarkUnknown(ctx context.Context, txHash string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = 'unknown', updated_at = ?
		WHERE tx_hash = ? AND status = 'pending'`,
		time.Now().UTC(), txHash,
	)
	if err != nil {
		return fmt.Errorf("mark submission unknown: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListUnresolved(ctx context.Context, limit int) ([]domain.Submission, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, tx_hash, account, sequence, kind, product_id, serial_number, status, block_number, created_at, updated_at
		FROM submissions
		WHERE status IN ('pending', 'unknown')
		ORDER BY created_at
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

func (m *MySQLAdapter) Get(ctx context.Context, txHash string) (*domain.Submission, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, tx_hash, account, sequence, kind, product_id, serial_number, status, block_number, created_at, updated_at
		FROM submissions WHERE tx_hash = ?`, txHash,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (domain.Submission, error) {
	var sub domain.Submission
	err := row.Scan(
		&sub.ID, &sub.TxHash, &sub.Account, &sub.Sequence, &sub.Kind, &sub.ProductID, &sub.SerialNumber,
		&sub.Status, &sub.BlockNumber, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, err
	}
	if err != nil {
		return sub, fmt.Errorf("scan submission: %w", err)
	}
	return sub, nil
}
