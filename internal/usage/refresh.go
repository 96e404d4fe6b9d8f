package usage

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/codexola/codexola/internal/config"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/session"
)

// SessionSource hands out a live session when one exists. The registry
// implements it.
type SessionSource interface {
	Any() (*session.Session, bool)
}

// Refresher drives the usage fallback cascade: ask a live session for rate
// limits, fall back to a disposable probe process, and recover a token
// total from session logs when no live observations exist.
type Refresher struct {
	ledger   *Ledger
	sessions SessionSource
	// spawnOpts supplies current settings for the probe process.
	spawnOpts func() session.SpawnOptions

	probeInflight atomic.Bool

	// Injection points for tests.
	liveRead    func(ctx context.Context, sess *session.Session) (*proto.RateLimitSnapshot, error)
	probe       func(ctx context.Context, opts session.SpawnOptions) (*proto.RateLimitSnapshot, error)
	scan        func(root string, now time.Time) ([]proto.UsagePoint, error)
	sessionsDir func() (string, bool)
	now         func() time.Time
}

// NewRefresher builds a refresher over the given ledger and session source.
func NewRefresher(ledger *Ledger, sessions SessionSource, spawnOpts func() session.SpawnOptions) *Refresher {
	return &Refresher{
		ledger:    ledger,
		sessions:  sessions,
		spawnOpts: spawnOpts,
		liveRead:  readSessionRateLimits,
		probe:     ProbeRateLimits,
		scan:      ScanSessionTokens,
		sessionsDir: func() (string, bool) {
			home, ok := config.CodexHome()
			if !ok {
				return "", false
			}
			return filepath.Join(home, "sessions"), true
		},
		now: time.Now,
	}
}

// Refresh runs one pass of the cascade. It never fails the caller; every
// leg degrades to the next and problems are logged.
func (r *Refresher) Refresh(ctx context.Context) {
	r.refreshRateLimits(ctx)
	r.refreshTotalFromLogs()
}

// refreshRateLimits prefers an existing session so no extra process is
// spawned, but a live session that errors or answers without rate limits
// does not satisfy the refresh: the probe leg still runs. The probe is
// serialized: a refresh arriving while one is already running skips
// rather than queueing a second process.
func (r *Refresher) refreshRateLimits(ctx context.Context) {
	if sess, ok := r.sessions.Any(); ok {
		limits, err := r.liveRead(ctx, sess)
		if err != nil {
			slog.Debug("rate limit read over live session failed", "error", err)
		} else if limits != nil {
			r.ledger.RecordRateLimits(*limits)
			return
		}
	}

	if !r.probeInflight.CompareAndSwap(false, true) {
		slog.Debug("usage probe already running, skipping")
		return
	}
	defer r.probeInflight.Store(false)

	limits, err := r.probe(ctx, r.spawnOpts())
	if err != nil {
		slog.Debug("usage probe failed", "error", err)
		return
	}
	r.ledger.RecordRateLimits(*limits)
}

// refreshTotalFromLogs recovers a token total from historical session
// logs while no live observation falls inside the window. The total goes
// into the snapshot only, never into the point window, so the scan
// repeats on every refresh until live data takes over.
func (r *Refresher) refreshTotalFromLogs() {
	if r.ledger.HasRecentPoints() {
		return
	}
	dir, ok := r.sessionsDir()
	if !ok {
		return
	}
	points, err := r.scan(dir, r.now())
	if err != nil {
		slog.Debug("session log scan failed", "dir", dir, "error", err)
		return
	}
	var total int64
	for _, p := range points {
		total += p.Tokens
	}
	r.ledger.RecordScanTotal(total)
}

// readSessionRateLimits asks a live session for its rate limits. A
// successful call without a rateLimits object returns nil, nil.
func readSessionRateLimits(ctx context.Context, sess *session.Session) (*proto.RateLimitSnapshot, error) {
	result, err := sess.SendRequest(ctx, proto.MethodRateLimitsRead, nil)
	if err != nil {
		return nil, err
	}
	return proto.RateLimitsFromJSON(result), nil
}
