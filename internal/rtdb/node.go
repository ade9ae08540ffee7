package rtdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pairtalk/pairtalk/internal/bus"
)

// Write stores value at path, replacing whatever was there. If path points
// below an existing document, the corresponding field is set instead.
func (db *DB) Write(ctx context.Context, path string, value any) error {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p, err)
	}

	docPath, fieldSegs, _, found, err := db.resolve(ctx, p)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	switch {
	case !found:
		_, err = db.ExecContext(ctx,
			`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
			p, string(data), now)
	case len(fieldSegs) == 0:
		_, err = db.ExecContext(ctx,
			`UPDATE nodes SET value = ?, updated_at = ? WHERE path = ?`,
			string(data), now, docPath)
	default:
		_, err = db.ExecContext(ctx,
			`UPDATE nodes SET value = json_set(value, ?, json(?)), updated_at = ? WHERE path = ?`,
			jsonPath(fieldSegs), string(data), now, docPath)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	db.publish(p, bus.OpWrite)
	return nil
}

// Update merges fields into the document at path. A nil field value removes
// the field. Updating an absent path creates the document from the non-nil
// fields.
func (db *DB) Update(ctx context.Context, path string, fields map[string]any) error {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return err
	}

	docPath, fieldSegs, _, found, err := db.resolve(ctx, p)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	if !found {
		doc := map[string]any{}
		for k, v := range fields {
			if v == nil {
				continue
			}
			setNested(doc, split(k), v)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", p, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
			p, string(data), now); err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
		db.publish(p, bus.OpUpdate)
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s: %w", p, err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range fields {
		segs := append(append([]string{}, fieldSegs...), split(k)...)
		fp := jsonPath(segs)
		if v == nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE nodes SET value = json_remove(value, ?), updated_at = ? WHERE path = ?`,
				fp, now, docPath)
		} else {
			data, merr := json.Marshal(v)
			if merr != nil {
				return fmt.Errorf("marshal field %s: %w", k, merr)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE nodes SET value = json_set(value, ?, json(?)), updated_at = ? WHERE path = ?`,
				fp, string(data), now, docPath)
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s: %w", p, err)
	}
	db.publish(p, bus.OpUpdate)
	return nil
}

// Delete removes the value at path. Deleting a document removes its whole
// subtree; deleting below a document removes the field. Absent paths are a
// no-op.
func (db *DB) Delete(ctx context.Context, path string) error {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return err
	}

	docPath, fieldSegs, _, found, err := db.resolve(ctx, p)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if len(fieldSegs) == 0 {
		_, err = db.ExecContext(ctx,
			`DELETE FROM nodes WHERE path = ? OR path LIKE ?`, docPath, docPath+"/%")
	} else {
		_, err = db.ExecContext(ctx,
			`UPDATE nodes SET value = json_remove(value, ?), updated_at = ? WHERE path = ?`,
			jsonPath(fieldSegs), time.Now().UnixMilli(), docPath)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	db.publish(p, bus.OpDelete)
	return nil
}

// ReadOnce returns a single-shot snapshot of the value at path.
func (db *DB) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return Snapshot{}, err
	}

	_, fieldSegs, raw, found, err := db.resolve(ctx, p)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{}, fmt.Errorf("read %s: %w", p, ErrNotFound)
	}
	if len(fieldSegs) > 0 {
		raw, err = extractField(raw, fieldSegs)
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s: %w", p, err)
		}
	}
	segs := split(p)
	return Snapshot{Path: p, Key: segs[len(segs)-1], raw: raw}, nil
}

// Children returns the direct child documents of path in ascending key
// order. Log-ordered push keys make this creation order.
func (db *DB) Children(ctx context.Context, path string) ([]Snapshot, error) {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT path, value FROM nodes WHERE path LIKE ? AND path NOT LIKE ? ORDER BY path ASC`,
		p+"/%", p+"/%/%")
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", p, err)
	}
	return scanSnapshots(rows, p)
}

// QueryEqual returns the children of path whose nested field (segments
// separated by '/') equals value, in ascending key order.
func (db *DB) QueryEqual(ctx context.Context, path, field string, value any) ([]Snapshot, error) {
	p := clean(path)
	if err := validatePath(p); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT path, value FROM nodes
		 WHERE path LIKE ? AND path NOT LIKE ? AND json_extract(value, ?) = ?
		 ORDER BY path ASC`,
		p+"/%", p+"/%/%", jsonPath(split(field)), value)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", p, field, err)
	}
	return scanSnapshots(rows, p)
}

// Watch returns a live channel of change events for the subtree at
// pathPrefix. Callers must invoke the returned unsubscribe function when the
// consuming view closes.
func (db *DB) Watch(pathPrefix string, bufSize int) (<-chan bus.Event, func()) {
	return db.bus.Subscribe("rtdb/"+clean(pathPrefix), bufSize)
}

// resolve walks from path upward to the nearest stored document. It returns
// the document path, any remaining field segments, and the raw document.
func (db *DB) resolve(ctx context.Context, p string) (docPath string, fieldSegs []string, raw []byte, found bool, err error) {
	segs := split(p)
	for i := len(segs); i >= 1; i-- {
		candidate := strings.Join(segs[:i], "/")
		var value []byte
		err := db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path = ?`, candidate).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", nil, nil, false, fmt.Errorf("resolve %s: %w", p, err)
		}
		return candidate, segs[i:], value, true, nil
	}
	return "", nil, nil, false, nil
}

func (db *DB) publish(p string, op bus.Op) {
	if db.bus == nil {
		return
	}
	db.bus.Publish(bus.Event{Kind: "rtdb/" + p, Op: op, Timestamp: time.Now()})
}

func scanSnapshots(rows *sql.Rows, parent string) ([]Snapshot, error) {
	defer func() { _ = rows.Close() }()

	var snaps []Snapshot
	for rows.Next() {
		var p string
		var raw []byte
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, err
		}
		snaps = append(snaps, Snapshot{
			Path: p,
			Key:  strings.TrimPrefix(p, parent+"/"),
			raw:  raw,
		})
	}
	return snaps, rows.Err()
}

func extractField(raw []byte, segs []string) ([]byte, error) {
	var cur any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, err
	}
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, ErrNotFound
		}
		cur, ok = m[seg]
		if !ok {
			return nil, ErrNotFound
		}
	}
	return json.Marshal(cur)
}

func setNested(doc map[string]any, segs []string, v any) {
	for i, seg := range segs {
		if i == len(segs)-1 {
			doc[seg] = v
			return
		}
		next, ok := doc[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[seg] = next
		}
		doc = next
	}
}
