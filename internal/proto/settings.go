package proto

import "time"

// ThemePreference selects the frontend color scheme.
type ThemePreference string

const (
	ThemeSystem ThemePreference = "system"
	ThemeLight  ThemePreference = "light"
	ThemeDark   ThemePreference = "dark"
)

// AccessMode controls the sandbox policy applied to agent turns.
type AccessMode string

const (
	AccessReadOnly   AccessMode = "read-only"
	AccessCurrent    AccessMode = "current"
	AccessFullAccess AccessMode = "full-access"
)

// AppSettings is the whole-object settings document. Fields the frontend
// owns (sidebar, glass) are carried opaquely; the orchestrator only acts on
// the spawn flags and the usage-polling knobs.
type AppSettings struct {
	ThemePreference                ThemePreference `json:"themePreference"`
	AccessMode                     AccessMode      `json:"accessMode"`
	BypassApprovalsAndSandbox      bool            `json:"bypassApprovalsAndSandbox"`
	EnableWebSearchRequest         bool            `json:"enableWebSearchRequest"`
	ConfirmBeforeQuit              bool            `json:"confirmBeforeQuit"`
	EnableCompletionNotifications  bool            `json:"enableCompletionNotifications"`
	UsagePollingEnabled            bool            `json:"usagePollingEnabled"`
	UsagePollingIntervalMinutes    int64           `json:"usagePollingIntervalMinutes"`
	SidebarWidth                   int64           `json:"sidebarWidth"`
	GlassBlurLight                 float64         `json:"glassBlurLight"`
	GlassBlurDark                  float64         `json:"glassBlurDark"`
	GlassOpacityLight              float64         `json:"glassOpacityLight"`
	GlassOpacityDark               float64         `json:"glassOpacityDark"`
	CodexBinPath                   string          `json:"codexBinPath,omitempty"`
	NodeBinPath                    string          `json:"nodeBinPath,omitempty"`
	WorkspaceSidebarExpanded       map[string]bool `json:"workspaceSidebarExpanded,omitempty"`
}

// DefaultSettings returns the settings document used when none is persisted.
// Loading unmarshals over this value so absent fields keep their defaults.
func DefaultSettings() AppSettings {
	return AppSettings{
		ThemePreference:             ThemeSystem,
		AccessMode:                  AccessCurrent,
		UsagePollingEnabled:         true,
		UsagePollingIntervalMinutes: 5,
		SidebarWidth:                280,
		GlassBlurLight:              32,
		GlassBlurDark:               32,
		GlassOpacityLight:           1,
		GlassOpacityDark:            1,
	}
}

// PollInterval returns the usage polling interval clamped to [1, 120]
// minutes.
func (s AppSettings) PollInterval() time.Duration {
	return time.Duration(ClampPollMinutes(s.UsagePollingIntervalMinutes)) * time.Minute
}

// ClampPollMinutes clamps a configured polling interval to [1, 120].
func ClampPollMinutes(minutes int64) int64 {
	return min(max(minutes, 1), 120)
}
