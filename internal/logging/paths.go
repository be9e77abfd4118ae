package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.segmentcore/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".segmentcore", "logs")
	}
	return filepath.Join(home, ".segmentcore", "logs")
}

// DefaultLogPath returns the default segment-cli log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "segment-cli.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceCLI is the segment-cli process logs (default, only source today).
	LogSourceCLI LogSource = "cli"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.segmentcore/logs/segment-cli.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	// Try global path
	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Run a segment-cli command with --debug first.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceCLI:
		cliPath := DefaultLogPath()
		checked = append(checked, cliPath)
		if _, err := os.Stat(cliPath); err == nil {
			paths = append(paths, cliPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: cli)", source)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\nTo generate logs:\n  segment-cli --debug build <dir>", source, checked)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	return LogSourceCLI
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}
