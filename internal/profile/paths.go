// Package profile resolves on-disk locations for a monitor profile.
// A profile bundles one set of backend credentials, its archive database
// and its logs under ~/.wamon/profiles/<name>/.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wamon.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wamon")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// ArchiveDBPath returns the local archive database path.
func ArchiveDBPath(name string) string {
	return filepath.Join(Dir(name), "archive.db")
}

// QRDir returns the directory QR images are written to during linking.
func QRDir(name string) string {
	return filepath.Join(Dir(name), "qr")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wamond.log")
}

// ConfigPath returns the per-profile config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// GlobalConfigPath returns the global config file path holding the
// default profile selection.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		QRDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
