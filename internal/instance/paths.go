// Package instance locates the on-disk state of a relayd instance.
package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.relay, or $RELAY_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("RELAY_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// SocketPath returns the UDS socket path for an instance.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// SQLitePath returns the default relay.db path.
func SQLitePath(name string) string {
	return filepath.Join(Dir(name), "relay.db")
}

// BadgerDir returns the default badger data directory.
func BadgerDir(name string) string {
	return filepath.Join(Dir(name), "badger")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "relayd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
