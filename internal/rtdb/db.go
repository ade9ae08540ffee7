package rtdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pairtalk/pairtalk/internal/bus"
)

// ErrNotFound is returned when a path resolves to no stored value.
var ErrNotFound = errors.New("rtdb: not found")

// DB is a hierarchical JSON-document store backed by SQLite. Documents live
// at '/'-separated paths; segments below a stored document address fields
// inside it. Every committed mutation is published on the bus under
// "rtdb/<path>", in write order per path.
type DB struct {
	*sql.DB
	bus *bus.Bus

	pushMu     sync.Mutex
	lastPushMs int64
	pushSeq    int
}

// Open creates a new SQLite-backed store with WAL mode and recommended
// pragmas. Transactions begin IMMEDIATE so read-modify-write sequences
// serialize at the store.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b}, nil
}
