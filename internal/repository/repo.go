package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// GetAssignment returns the persisted slot for a chat. The second
// return is false when no assignment has ever been made.
func (r *Repo) GetAssignment(ctx context.Context, chat string) (int, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT slot FROM assignments WHERE chat_id = ?`, chat)
	var slot int
	if err := row.Scan(&slot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return slot, true, nil
}

func (r *Repo) SetAssignment(ctx context.Context, chat string, slot int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assignments(chat_id, slot) VALUES (?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET slot = excluded.slot`,
		chat, slot,
	)
	return err
}

func (r *Repo) GetActiveFlag(ctx context.Context, chat string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT active FROM active_calls WHERE chat_id = ?`, chat)
	var active int
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return active != 0, nil
}

func (r *Repo) SetActiveFlag(ctx context.Context, chat string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO active_calls(chat_id, active) VALUES (?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET active = excluded.active`,
		chat, boolToInt(active),
	)
	return err
}

func (r *Repo) CacheTouch(ctx context.Context, hash string, size int64, created bool) error {
	now := time.Now().Unix()
	if created {
		_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO file_cache(hash,bytes,accessed_at,created_at) VALUES (?,?,?,COALESCE((SELECT created_at FROM file_cache WHERE hash=?),?))`,
			hash, size, now, hash, now)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE file_cache SET accessed_at=? WHERE hash=?`, now, hash)
	return err
}

func (r *Repo) CacheRemove(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_cache WHERE hash=?`, hash)
	return err
}

func (r *Repo) CacheTotalBytes(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes),0) FROM file_cache`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *Repo) CacheOldest(ctx context.Context) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT hash FROM file_cache ORDER BY accessed_at ASC LIMIT 1`)
	var hash string
	if err := row.Scan(&hash); err != nil {
		return "", err
	}
	return hash, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
