package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	_ "modernc.org/sqlite"

	"growvault/native/lockup"
)

// SQLiteStore is the durable lock registry. It owns lock rows and their
// status; vault balances stay on the ledger and are never cached here.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS locks (
            id TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            amount TEXT NOT NULL,
            duration_hours INTEGER NOT NULL,
            reward_amount TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            maturity INTEGER NOT NULL,
            status TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS locks_owner_status ON locks(owner, status);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertLock persists a newly created lock.
func (s *SQLiteStore) InsertLock(ctx context.Context, lock *lockup.Lock) error {
	const stmt = `INSERT INTO locks(id, owner, amount, duration_hours, reward_amount, created_at, maturity, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		lock.ID, lock.Owner, lock.Amount.String(), lock.DurationHours,
		lock.RewardAmount.String(), lock.CreatedAt, lock.MaturityUnix, lock.Status.String())
	return err
}

func scanLock(scan func(dest ...any) error) (*lockup.Lock, error) {
	var (
		lock      lockup.Lock
		amount    string
		reward    string
		statusRaw string
	)
	if err := scan(&lock.ID, &lock.Owner, &amount, &lock.DurationHours, &reward, &lock.CreatedAt, &lock.MaturityUnix, &statusRaw); err != nil {
		return nil, err
	}
	var ok bool
	if lock.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
		return nil, fmt.Errorf("malformed lock amount %q", amount)
	}
	if lock.RewardAmount, ok = new(big.Int).SetString(reward, 10); !ok {
		return nil, fmt.Errorf("malformed lock reward %q", reward)
	}
	status, err := lockup.ParseStatus(statusRaw)
	if err != nil {
		return nil, err
	}
	lock.Status = status
	return &lock, nil
}

const lockColumns = `id, owner, amount, duration_hours, reward_amount, created_at, maturity, status`

// GetLock fetches a lock by id restricted to the given owner.
func (s *SQLiteStore) GetLock(ctx context.Context, id, owner string) (*lockup.Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM locks WHERE id = ? AND owner = ?`
	row := s.db.QueryRowContext(ctx, query, id, owner)
	lock, err := scanLock(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lockup.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ListActiveLocks returns the owner's active locks ordered by ascending
// maturity, soonest-maturing first. The ordering is part of the API contract.
func (s *SQLiteStore) ListActiveLocks(ctx context.Context, owner string) ([]*lockup.Lock, error) {
	query := `SELECT ` + lockColumns + ` FROM locks WHERE owner = ? AND status = ? ORDER BY maturity ASC`
	rows, err := s.db.QueryContext(ctx, query, owner, lockup.LockStatusActive.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []*lockup.Lock
	for rows.Next() {
		lock, err := scanLock(rows.Scan)
		if err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locks, nil
}

// MarkClaimed flips a lock's status to claimed. The WHERE clause only matches
// still-active rows, so concurrent settlements race on a single conditional
// update: exactly one wins, the rest see ErrAlreadySettled.
func (s *SQLiteStore) MarkClaimed(ctx context.Context, id, owner string) error {
	const stmt = `UPDATE locks SET status = ? WHERE id = ? AND owner = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, lockup.LockStatusClaimed.String(), id, owner, lockup.LockStatusActive.String())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	if _, err := s.GetLock(ctx, id, owner); err != nil {
		return err
	}
	return lockup.ErrAlreadySettled
}

// DeleteOwnerLocks removes every lock row for an owner. Account-closure
// cascade only; ordinary settlement never deletes rows.
func (s *SQLiteStore) DeleteOwnerLocks(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE owner = ?`, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
