package proto

import (
	"math"

	"github.com/tidwall/gjson"
)

// UsageSource tags where a usage snapshot's total came from.
type UsageSource string

const (
	// UsageSourceNone means nothing has been observed yet.
	UsageSourceNone UsageSource = "none"
	// UsageSourceAppServer means the total was accumulated from live
	// app-server token events.
	UsageSourceAppServer UsageSource = "app-server"
	// UsageSourceSessions means the total was recovered by scanning
	// historical session logs.
	UsageSourceSessions UsageSource = "sessions"
)

// UsagePoint is one timestamped token-count observation. Points are
// immutable once recorded and pruned when they age past the 24h window.
type UsagePoint struct {
	TimestampMS int64 `json:"timestampMs"`
	Tokens      int64 `json:"tokens"`
}

// RateLimitWindow describes one quota window's utilization.
type RateLimitWindow struct {
	UsedPercent        int64  `json:"usedPercent"`
	WindowDurationMins *int64 `json:"windowDurationMins"`
	ResetsAt           *int64 `json:"resetsAt"`
}

// RateLimitSnapshot is the last-known pair of quota windows. It is always
// replaced wholesale, never merged field by field.
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow `json:"primary"`
	Secondary *RateLimitWindow `json:"secondary"`
}

// UsageSnapshot is the externally visible merged usage summary.
type UsageSnapshot struct {
	TotalTokens24h *int64             `json:"totalTokens24h"`
	UpdatedAtMS    *int64             `json:"updatedAtMs"`
	Source         UsageSource        `json:"source"`
	RateLimits     *RateLimitSnapshot `json:"rateLimits"`
}

// EmptyUsageSnapshot returns the snapshot reported before anything has
// ever been recorded.
func EmptyUsageSnapshot() UsageSnapshot {
	return UsageSnapshot{Source: UsageSourceNone}
}

// UsageStore is the persisted representation of the ledger: the raw points,
// the last computed snapshot, and the last known rate limits.
type UsageStore struct {
	AppServerPoints []UsagePoint       `json:"appServerPoints"`
	LastSnapshot    *UsageSnapshot     `json:"lastSnapshot"`
	LastRateLimits  *RateLimitSnapshot `json:"lastRateLimits"`
}

// TokenDeltaFromParams extracts the last-turn token delta from a
// thread/tokenUsage/updated notification. The app-server has emitted both
// camelCase and snake_case shapes across versions, so both are accepted.
// Returns false for missing or non-positive values.
func TokenDeltaFromParams(params []byte) (int64, bool) {
	usage := firstResult(params, "tokenUsage", "token_usage")
	if !usage.Exists() {
		return 0, false
	}
	last := firstResultValue(usage, "last", "last_usage")
	if !last.Exists() {
		return 0, false
	}
	total := firstResultValue(last, "totalTokens", "total_tokens")
	if !total.Exists() {
		return 0, false
	}
	tokens := total.Int()
	if tokens <= 0 {
		return 0, false
	}
	return tokens, true
}

// RateLimitsFromJSON extracts a rate-limit snapshot from a container that
// holds a rateLimits (or rate_limits) object: either the params of an
// account/rateLimits/updated notification or the result of an
// account/rateLimits/read response.
func RateLimitsFromJSON(container []byte) *RateLimitSnapshot {
	limits := firstResult(container, "rateLimits", "rate_limits")
	if !limits.Exists() {
		return nil
	}
	snapshot := &RateLimitSnapshot{
		Primary:   windowFromResult(limits.Get("primary")),
		Secondary: windowFromResult(limits.Get("secondary")),
	}
	return snapshot
}

func windowFromResult(v gjson.Result) *RateLimitWindow {
	if !v.Exists() {
		return nil
	}
	used := firstResultValue(v, "usedPercent", "used_percent")
	if !used.Exists() {
		return nil
	}
	w := &RateLimitWindow{UsedPercent: roundedInt(used)}
	if d := firstResultValue(v, "windowDurationMins", "window_duration_mins"); d.Exists() {
		mins := d.Int()
		w.WindowDurationMins = &mins
	}
	if r := firstResultValue(v, "resetsAt", "resets_at"); r.Exists() {
		at := r.Int()
		w.ResetsAt = &at
	}
	return w
}

// roundedInt tolerates servers that report usedPercent as a float.
func roundedInt(v gjson.Result) int64 {
	if v.Type == gjson.Number {
		f := v.Float()
		if f != math.Trunc(f) {
			return int64(math.Round(f))
		}
	}
	return v.Int()
}

func firstResult(data []byte, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.GetBytes(data, p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstResultValue(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}
