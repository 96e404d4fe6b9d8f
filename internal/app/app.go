// Package app wires the orchestrator together: persisted settings and
// workspaces, the session registry, the usage ledger and its poller, and
// the event brokers the HTTP layer exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/codexola/codexola/internal/config"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
	"github.com/codexola/codexola/internal/session"
	"github.com/codexola/codexola/internal/usage"
)

// ErrWorkspaceNotFound is returned for operations on unknown workspace ids.
var ErrWorkspaceNotFound = errors.New("app: workspace not found")

// App is the orchestrator's root object. One instance lives for the
// process lifetime.
type App struct {
	dataDir string

	mu         sync.Mutex
	settings   proto.AppSettings
	workspaces []proto.WorkspaceEntry

	registry  *session.Registry
	ledger    *usage.Ledger
	refresher *usage.Refresher
	poller    *usage.Poller

	AgentEvents     *pubsub.Broker[proto.AgentEvent]
	UsageEvents     *pubsub.Broker[proto.UsageSnapshot]
	SettingsEvents  *pubsub.Broker[proto.AppSettings]
	WorkspaceEvents *pubsub.Broker[proto.WorkspaceInfo]
}

// New loads persisted state from dataDir and starts the background usage
// poller if enabled.
func New(dataDir string) (*App, error) {
	settings, err := config.LoadSettings(config.SettingsPath(dataDir))
	if err != nil {
		slog.Warn("falling back to default settings", "error", err)
	}
	workspaces, err := config.LoadWorkspaces(config.WorkspacesPath(dataDir))
	if err != nil {
		return nil, err
	}

	a := &App{
		dataDir:        dataDir,
		settings:       settings,
		workspaces:     workspaces,
		AgentEvents:     pubsub.NewBroker[proto.AgentEvent](),
		UsageEvents:     pubsub.NewBroker[proto.UsageSnapshot](),
		SettingsEvents:  pubsub.NewBroker[proto.AppSettings](),
		WorkspaceEvents: pubsub.NewBroker[proto.WorkspaceInfo](),
	}
	a.ledger = usage.NewLedger(config.UsagePath(dataDir), a.UsageEvents)
	a.registry = session.NewRegistry(a.AgentEvents, a.ledger)

	a.refresher = usage.NewRefresher(a.ledger, a.registry, func() session.SpawnOptions {
		return session.SpawnOptions{Settings: a.Settings()}
	})
	a.poller = usage.NewPoller(a.refresher.Refresh)
	if settings.UsagePollingEnabled {
		a.poller.Restart(settings.PollInterval())
	}
	return a, nil
}

// Shutdown stops the poller and tears down every session.
func (a *App) Shutdown() {
	a.poller.Stop()
	a.registry.CloseAll()
	a.AgentEvents.Shutdown()
	a.UsageEvents.Shutdown()
	a.SettingsEvents.Shutdown()
}

// Settings returns a copy of the current settings.
func (a *App) Settings() proto.AppSettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateSettings replaces the settings document, persists it, notifies
// subscribers, and reconciles the usage poller with the new knobs.
func (a *App) UpdateSettings(settings proto.AppSettings) error {
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	if err := config.SaveSettings(config.SettingsPath(a.dataDir), settings); err != nil {
		return err
	}
	a.SettingsEvents.Publish(pubsub.UpdatedEvent, settings)

	if settings.UsagePollingEnabled {
		a.poller.Restart(settings.PollInterval())
	} else {
		a.poller.Stop()
	}
	return nil
}

// ListWorkspaces returns every workspace with its connection state.
func (a *App) ListWorkspaces() []proto.WorkspaceInfo {
	a.mu.Lock()
	entries := append([]proto.WorkspaceEntry(nil), a.workspaces...)
	a.mu.Unlock()

	infos := make([]proto.WorkspaceInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, workspaceInfo(entry, a.registry.Connected(entry.ID)))
	}
	return infos
}

func workspaceInfo(entry proto.WorkspaceEntry, connected bool) proto.WorkspaceInfo {
	return proto.WorkspaceInfo{
		ID:        entry.ID,
		Name:      entry.Name,
		Path:      entry.Path,
		CodexBin:  entry.CodexBin,
		Connected: connected,
	}
}

// Workspace looks up a workspace entry by id.
func (a *App) Workspace(id string) (proto.WorkspaceEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, entry := range a.workspaces {
		if entry.ID == id {
			return entry, nil
		}
	}
	return proto.WorkspaceEntry{}, ErrWorkspaceNotFound
}

// AddWorkspace registers a directory as a workspace. The name defaults to
// the directory's basename.
func (a *App) AddWorkspace(path, codexBin string) (proto.WorkspaceEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return proto.WorkspaceEntry{}, fmt.Errorf("app: resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return proto.WorkspaceEntry{}, fmt.Errorf("app: %s is not a directory", abs)
	}

	entry := proto.WorkspaceEntry{
		ID:       uuid.NewString(),
		Name:     filepath.Base(abs),
		Path:     abs,
		CodexBin: codexBin,
	}

	a.mu.Lock()
	a.workspaces = append(a.workspaces, entry)
	entries := append([]proto.WorkspaceEntry(nil), a.workspaces...)
	a.mu.Unlock()

	if err := config.SaveWorkspaces(config.WorkspacesPath(a.dataDir), entries); err != nil {
		return proto.WorkspaceEntry{}, err
	}
	a.WorkspaceEvents.Publish(pubsub.CreatedEvent, workspaceInfo(entry, false))
	return entry, nil
}

// RemoveWorkspace disconnects and forgets a workspace. The directory
// itself is untouched.
func (a *App) RemoveWorkspace(id string) error {
	a.registry.Disconnect(id)

	a.mu.Lock()
	kept := a.workspaces[:0]
	var removed *proto.WorkspaceEntry
	for _, entry := range a.workspaces {
		if entry.ID == id {
			removed = &entry
			continue
		}
		kept = append(kept, entry)
	}
	a.workspaces = kept
	entries := append([]proto.WorkspaceEntry(nil), a.workspaces...)
	a.mu.Unlock()

	if removed == nil {
		return ErrWorkspaceNotFound
	}
	if err := config.SaveWorkspaces(config.WorkspacesPath(a.dataDir), entries); err != nil {
		return err
	}
	a.WorkspaceEvents.Publish(pubsub.DeletedEvent, workspaceInfo(*removed, false))
	return nil
}

// ConnectWorkspace spawns (or respawns) the workspace's agent server.
func (a *App) ConnectWorkspace(ctx context.Context, id string) (proto.WorkspaceInfo, error) {
	entry, err := a.Workspace(id)
	if err != nil {
		return proto.WorkspaceInfo{}, err
	}
	if _, err := a.registry.Connect(ctx, entry, a.Settings()); err != nil {
		return proto.WorkspaceInfo{}, err
	}
	info := workspaceInfo(entry, true)
	a.WorkspaceEvents.Publish(pubsub.UpdatedEvent, info)
	return info, nil
}

// DisconnectWorkspace tears down the workspace's session if one is live.
func (a *App) DisconnectWorkspace(id string) {
	a.registry.Disconnect(id)
	if entry, err := a.Workspace(id); err == nil {
		a.WorkspaceEvents.Publish(pubsub.UpdatedEvent, workspaceInfo(entry, false))
	}
}

// Session returns the live session for a workspace.
func (a *App) Session(id string) (*session.Session, error) {
	return a.registry.Get(id)
}

// UsageSnapshot returns the current merged usage summary.
func (a *App) UsageSnapshot() proto.UsageSnapshot {
	return a.ledger.Snapshot()
}

// RefreshUsage forces one usage refresh pass outside the polling schedule.
func (a *App) RefreshUsage(ctx context.Context) proto.UsageSnapshot {
	a.refresher.Refresh(ctx)
	return a.ledger.Snapshot()
}

// InspectBinary reports what launching the configured binary would entail
// for the given workspace (or the global defaults when id is empty).
func (a *App) InspectBinary(id string) (proto.BinaryInspection, error) {
	opts := session.SpawnOptions{Settings: a.Settings()}
	if id != "" {
		entry, err := a.Workspace(id)
		if err != nil {
			return proto.BinaryInspection{}, err
		}
		opts.Dir = entry.Path
		opts.CodexBin = entry.CodexBin
	}
	return session.Inspect(opts)
}

// ValidateBinary checks that the configured binary can be launched.
func (a *App) ValidateBinary(id string) error {
	opts := session.SpawnOptions{Settings: a.Settings()}
	if id != "" {
		entry, err := a.Workspace(id)
		if err != nil {
			return err
		}
		opts.Dir = entry.Path
		opts.CodexBin = entry.CodexBin
	}
	return session.Validate(opts)
}
