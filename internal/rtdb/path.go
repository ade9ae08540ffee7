package rtdb

import (
	"fmt"
	"strings"
)

// clean normalizes a store path: trims surrounding slashes and collapses
// empty segments.
func clean(p string) string {
	segs := split(p)
	return strings.Join(segs, "/")
}

func split(p string) []string {
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// jsonPath turns field segments into a SQLite JSON1 path expression.
func jsonPath(segs []string) string {
	return "$." + strings.Join(segs, ".")
}

func validatePath(p string) error {
	if len(split(p)) == 0 {
		return fmt.Errorf("rtdb: empty path")
	}
	return nil
}
