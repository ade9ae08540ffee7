package rtdb

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Push returns a generated, log-ordered child key: a fixed-width base36
// millisecond timestamp, a per-millisecond sequence, and random entropy.
// Keys sort lexicographically in creation order, which is what gives the
// message log its ordering.
func (db *DB) Push() string {
	db.pushMu.Lock()
	now := nowMilli()
	if now <= db.lastPushMs {
		db.pushSeq++
		now = db.lastPushMs
	} else {
		db.lastPushMs = now
		db.pushSeq = 0
	}
	seq := db.pushSeq
	db.pushMu.Unlock()

	u := uuid.New()
	entropy := pad36(strconv.FormatUint(uint64(binary.BigEndian.Uint32(u[:4])), 36), 7)
	return fmt.Sprintf("%s%04d%s", pad36(strconv.FormatInt(now, 36), 9), seq, entropy)
}

func pad36(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
