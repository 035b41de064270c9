package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS personal_policies (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	action TEXT NOT NULL,
	mode TEXT NOT NULL,
	trust_score REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	UNIQUE(user_id, domain, action)
);
CREATE INDEX IF NOT EXISTS idx_policies_user_domain ON personal_policies(user_id, domain);
`

type policyRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Domain     string    `db:"domain"`
	Action     string    `db:"action"`
	Mode       string    `db:"mode"`
	TrustScore float64   `db:"trust_score"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SQLStore is a SQLite-backed PersonalStorage. Trust deltas are applied and
// clamped inside a single UPDATE, so concurrent feedback for one key cannot
// lose updates even across processes.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(ctx context.Context, dbPath string) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := configureDatabase(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// configureDatabase sets up SQLite pragmas for WAL mode operation.
func configureDatabase(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) GetPolicy(ctx context.Context, userID string, domain Domain, action string) (*Policy, error) {
	var row policyRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, user_id, domain, action, mode, trust_score, updated_at
		 FROM personal_policies WHERE user_id = ? AND domain = ? AND action = ?`,
		userID, string(domain), action)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}

	return &Policy{
		ID:         row.ID,
		UserID:     row.UserID,
		Domain:     Domain(row.Domain),
		Action:     row.Action,
		Mode:       Mode(row.Mode),
		TrustScore: row.TrustScore,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// UpsertPolicy inserts the policy or, on conflict, updates the mode while
// keeping the stored trust score. This keeps SetMode idempotent under
// concurrent callers without a read-check-then-write race.
func (s *SQLStore) UpsertPolicy(ctx context.Context, policy *Policy) (string, error) {
	if policy.ID == "" {
		policy.ID = ulid.Make().String()
	}
	policy.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_policies (id, user_id, domain, action, mode, trust_score, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, domain, action)
		 DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at`,
		policy.ID, policy.UserID, string(policy.Domain), policy.Action,
		string(policy.Mode), policy.TrustScore, policy.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("upsert policy: %w", err)
	}

	// The stored id survives a conflict; read it back so callers see it.
	var id string
	err = s.db.GetContext(ctx, &id,
		`SELECT id FROM personal_policies WHERE user_id = ? AND domain = ? AND action = ?`,
		policy.UserID, string(policy.Domain), policy.Action)
	if err != nil {
		return "", fmt.Errorf("read back policy id: %w", err)
	}
	policy.ID = id
	return id, nil
}

func (s *SQLStore) UpdateTrustScore(ctx context.Context, userID string, domain Domain, action string, delta float64) (float64, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE personal_policies
		 SET trust_score = MAX(?, MIN(?, trust_score + ?)), updated_at = ?
		 WHERE user_id = ? AND domain = ? AND action = ?`,
		MinTrustScore, MaxTrustScore, delta, time.Now().UTC(),
		userID, string(domain), action)
	if err != nil {
		return 0, false, fmt.Errorf("update trust score: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	var score float64
	err = s.db.GetContext(ctx, &score,
		`SELECT trust_score FROM personal_policies WHERE user_id = ? AND domain = ? AND action = ?`,
		userID, string(domain), action)
	if err != nil {
		return 0, false, fmt.Errorf("read back trust score: %w", err)
	}
	return score, true, nil
}

func (s *SQLStore) ResetDomainTrust(ctx context.Context, userID string, domain Domain) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE personal_policies SET trust_score = ?, updated_at = ?
		 WHERE user_id = ? AND domain = ?`,
		MinTrustScore, time.Now().UTC(), userID, string(domain))
	if err != nil {
		return 0, fmt.Errorf("reset domain trust: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}
