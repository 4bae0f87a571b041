package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/majordomo/internal/defaults"
)

// runInit initializes a Majordomo working directory: the data
// directory, an example config, and an example .env. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Majordomo workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Join(dir, "db"), err)
	}

	// config.yaml may carry API keys and mail passwords.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	envPath := filepath.Join(dir, ".env")
	if err := writeIfMissing(envPath, defaults.EnvFile, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", envPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and .env to point at your model server and devices.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}
