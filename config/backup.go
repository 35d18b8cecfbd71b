package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backup writes a timestamped copy of the configuration file next to the
// original. Called after a successful reload so the previous known-good
// configuration can be restored by hand.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stamp := time.Now().Format("20060102-150405")
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s.bak", base, stamp))

	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}
	return backupPath, nil
}
