package rtdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pairtalk/pairtalk/internal/bus"
)

// Txn runs a read-modify-write against the document at path inside a single
// immediate transaction, serializing with every other writer. fn receives
// the current document (nil if absent) and returns the replacement;
// returning nil deletes the document and its subtree. An error from fn
// aborts the transaction and is returned unchanged, so callers can surface
// typed failures out of the conditional write.
func (db *DB) Txn(ctx context.Context, path string, fn func(cur []byte) ([]byte, error)) error {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txn %s: %w", p, err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, p).Scan(&cur)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("txn %s: %w", p, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if next == nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM nodes WHERE path = ? OR path LIKE ?`, p, p+"/%")
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			p, string(next), now)
	}
	if err != nil {
		return fmt.Errorf("txn %s: %w", p, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txn commit %s: %w", p, err)
	}
	db.publish(p, bus.OpWrite)
	return nil
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
