package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.pairtalk.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pairtalk")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// DBPath returns the realtime store database path for a session.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "pairtalk.db")
}

// IdentityPath returns the file holding the persisted anonymous user id.
func IdentityPath(name string) string {
	return filepath.Join(Dir(name), "identity")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "pairtalk.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
