// Package usage tracks token consumption across all workspaces: a sliding
// 24 hour window of observations, the last known rate limits, and the
// fallback paths that recover both when no live session is reporting.
package usage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codexola/codexola/internal/config"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
)

const windowDuration = 24 * time.Hour

// Ledger accumulates token observations into a sliding window and keeps
// the last rate limit snapshot. Every mutation is persisted and published.
type Ledger struct {
	mu     sync.Mutex
	points []proto.UsagePoint
	last   proto.UsageSnapshot
	limits *proto.RateLimitSnapshot

	path   string
	events *pubsub.Broker[proto.UsageSnapshot]
	now    func() time.Time
}

// NewLedger builds a ledger persisting to the given path, loading any
// previously saved state.
func NewLedger(path string, events *pubsub.Broker[proto.UsageSnapshot]) *Ledger {
	l := &Ledger{
		path:   path,
		events: events,
		last:   proto.EmptyUsageSnapshot(),
		now:    time.Now,
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	if l.path == "" {
		return
	}
	store, err := config.LoadUsageStore(l.path)
	if err != nil {
		slog.Warn("discarding unreadable usage store", "path", l.path, "error", err)
		return
	}
	if store == nil {
		return
	}
	l.points = store.AppServerPoints
	if store.LastSnapshot != nil {
		l.last = *store.LastSnapshot
	}
	l.limits = store.LastRateLimits
}

// RecordSample appends a token observation at the current time, prunes the
// window, and republishes the snapshot. Non-positive deltas are ignored.
func (l *Ledger) RecordSample(tokens int64) {
	if tokens <= 0 {
		return
	}
	l.mu.Lock()
	now := l.now()
	l.points = append(l.points, proto.UsagePoint{
		TimestampMS: now.UnixMilli(),
		Tokens:      tokens,
	})
	l.recomputeLocked(now, proto.UsageSourceAppServer)
	snapshot := l.last
	l.mu.Unlock()
	l.commit(snapshot)
}

// RecordRateLimits replaces the rate limit snapshot wholesale. The token
// total is left as it was; rate limits and window totals are independent
// observations.
func (l *Ledger) RecordRateLimits(limits proto.RateLimitSnapshot) {
	l.mu.Lock()
	l.limits = &limits
	now := l.now()
	source := l.last.Source
	if source == proto.UsageSourceNone {
		source = proto.UsageSourceAppServer
	}
	l.recomputeLocked(now, source)
	snapshot := l.last
	l.mu.Unlock()
	l.commit(snapshot)
}

// RecordScanTotal publishes a token total recovered from historical
// session logs. Scan results never enter the point window: they shape the
// snapshot only, so the window stays empty and the next refresh rescans
// until live observations arrive. Non-positive totals are ignored.
func (l *Ledger) RecordScanTotal(total int64) {
	if total <= 0 {
		return
	}
	l.mu.Lock()
	updatedAt := l.now().UnixMilli()
	l.last = proto.UsageSnapshot{
		TotalTokens24h: &total,
		UpdatedAtMS:    &updatedAt,
		Source:         proto.UsageSourceSessions,
		RateLimits:     l.limits,
	}
	snapshot := l.last
	l.mu.Unlock()
	l.commit(snapshot)
}

// Snapshot returns the current merged summary.
func (l *Ledger) Snapshot() proto.UsageSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// HasRecentPoints reports whether any observation falls inside the window,
// which decides whether the fallback scan is needed at all.
func (l *Ledger) HasRecentPoints() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-windowDuration).UnixMilli()
	for _, p := range l.points {
		if p.TimestampMS >= cutoff {
			return true
		}
	}
	return false
}

// recomputeLocked prunes expired points and rebuilds the snapshot. When no
// points survive, the previous total is retained so a quiet day does not
// blank the display, but the timestamp still advances.
func (l *Ledger) recomputeLocked(now time.Time, source proto.UsageSource) {
	cutoff := now.Add(-windowDuration).UnixMilli()
	kept := l.points[:0]
	for _, p := range l.points {
		if p.TimestampMS >= cutoff {
			kept = append(kept, p)
		}
	}
	l.points = kept

	updatedAt := now.UnixMilli()
	snapshot := proto.UsageSnapshot{
		UpdatedAtMS: &updatedAt,
		Source:      source,
		RateLimits:  l.limits,
	}
	if len(l.points) > 0 {
		var total int64
		for _, p := range l.points {
			total += p.Tokens
		}
		snapshot.TotalTokens24h = &total
	} else {
		snapshot.TotalTokens24h = l.last.TotalTokens24h
	}
	l.last = snapshot
}

// commit persists the mutated state and notifies subscribers. Persistence
// failures are logged and otherwise ignored; the in-memory ledger stays
// authoritative.
func (l *Ledger) commit(snapshot proto.UsageSnapshot) {
	if l.path != "" {
		l.mu.Lock()
		store := proto.UsageStore{
			AppServerPoints: append([]proto.UsagePoint(nil), l.points...),
			LastSnapshot:    &snapshot,
			LastRateLimits:  l.limits,
		}
		l.mu.Unlock()
		if err := config.SaveUsageStore(l.path, store); err != nil {
			slog.Warn("persisting usage store failed", "path", l.path, "error", err)
		}
	}
	if l.events != nil {
		l.events.Publish(pubsub.UpdatedEvent, snapshot)
	}
}
