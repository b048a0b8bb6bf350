package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RequiredDirectories lists the directories the configured files live in
func (c *Config) RequiredDirectories() []string {
	var dirs []string
	if c.Store.Driver == StoreSQLite && c.Store.SQLitePath != "" {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	return dirs
}

// EnsureDirectories creates any missing directory from RequiredDirectories
func (c *Config) EnsureDirectories() error {
	for _, dir := range c.RequiredDirectories() {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
