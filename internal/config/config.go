// Package config owns the orchestrator's persisted JSON documents: the
// application settings, the workspace list, and the paths they live at.
// Every document is read and written whole; there is no field-level merge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codexola/codexola/internal/proto"
)

const appDirName = "codexola"

// DataDir resolves the directory holding all persisted state. An explicit
// override wins; otherwise the platform user-config directory is used, with
// the current directory as a last resort.
func DataDir(override string) string {
	if override != "" {
		return override
	}
	base, err := os.UserConfigDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "."+appDirName)
		}
		return "." + appDirName
	}
	return filepath.Join(base, appDirName)
}

func SettingsPath(dataDir string) string   { return filepath.Join(dataDir, "settings.json") }
func WorkspacesPath(dataDir string) string { return filepath.Join(dataDir, "workspaces.json") }
func UsagePath(dataDir string) string      { return filepath.Join(dataDir, "usage.json") }
func LogPath(dataDir string) string        { return filepath.Join(dataDir, "codexola.log") }

// CodexHome resolves the directory the codex CLI keeps its state in:
// $CODEX_HOME if set, otherwise ~/.codex.
func CodexHome() (string, bool) {
	if v := os.Getenv("CODEX_HOME"); v != "" {
		return v, true
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if v := os.Getenv(env); v != "" {
			return filepath.Join(v, ".codex"), true
		}
	}
	return "", false
}

// PromptsDir resolves the prompt library directory (~/.codex/prompts).
func PromptsDir() (string, bool) {
	home, ok := CodexHome()
	if !ok {
		return "", false
	}
	return filepath.Join(home, "prompts"), true
}

// LoadSettings reads the settings document, returning defaults when the
// file does not exist. Absent fields keep their default values.
func LoadSettings(path string) (proto.AppSettings, error) {
	settings := proto.DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("config: read settings: %w", err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return proto.DefaultSettings(), fmt.Errorf("config: parse settings: %w", err)
	}
	return settings, nil
}

// SaveSettings writes the settings document, creating parent directories
// as needed.
func SaveSettings(path string, settings proto.AppSettings) error {
	return writeJSON(path, settings)
}

// LoadWorkspaces reads the workspace list, returning an empty list when the
// file does not exist.
func LoadWorkspaces(path string) ([]proto.WorkspaceEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read workspaces: %w", err)
	}
	var entries []proto.WorkspaceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("config: parse workspaces: %w", err)
	}
	return entries, nil
}

// SaveWorkspaces writes the workspace list.
func SaveWorkspaces(path string, entries []proto.WorkspaceEntry) error {
	if entries == nil {
		entries = []proto.WorkspaceEntry{}
	}
	return writeJSON(path, entries)
}

// LoadUsageStore reads the persisted usage ledger. A missing file yields
// nil with no error.
func LoadUsageStore(path string) (*proto.UsageStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read usage store: %w", err)
	}
	var store proto.UsageStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("config: parse usage store: %w", err)
	}
	return &store, nil
}

// SaveUsageStore writes the usage ledger.
func SaveUsageStore(path string, store proto.UsageStore) error {
	return writeJSON(path, store)
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
