package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codexola/codexola/internal/proto"
)

// testLedger builds an unpersisted ledger whose clock the test controls.
func testLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	l := NewLedger("", nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLedgerAccumulatesDeltas(t *testing.T) {
	t.Parallel()

	l, _ := testLedger(t)
	for _, delta := range []int64{50, -10, 0, 30} {
		l.RecordSample(delta)
	}

	snap := l.Snapshot()
	require.NotNil(t, snap.TotalTokens24h)
	require.Equal(t, int64(80), *snap.TotalTokens24h)
	require.Equal(t, proto.UsageSourceAppServer, snap.Source)
}

func TestLedgerPrunesExpiredPoints(t *testing.T) {
	t.Parallel()

	l, now := testLedger(t)
	l.RecordSample(100)

	*now = now.Add(25 * time.Hour)
	l.RecordSample(300)

	snap := l.Snapshot()
	require.Equal(t, int64(300), *snap.TotalTokens24h)
	require.Len(t, l.points, 1)
}

func TestLedgerRetainsTotalWhenWindowEmpties(t *testing.T) {
	t.Parallel()

	l, now := testLedger(t)
	l.RecordSample(150)

	*now = now.Add(25 * time.Hour)
	l.RecordRateLimits(proto.RateLimitSnapshot{
		Primary: &proto.RateLimitWindow{UsedPercent: 10},
	})

	snap := l.Snapshot()
	require.NotNil(t, snap.TotalTokens24h)
	require.Equal(t, int64(150), *snap.TotalTokens24h)
	require.Empty(t, l.points)
}

func TestLedgerReplacesRateLimitsWholesale(t *testing.T) {
	t.Parallel()

	l, _ := testLedger(t)
	mins := int64(300)
	l.RecordRateLimits(proto.RateLimitSnapshot{
		Primary:   &proto.RateLimitWindow{UsedPercent: 30, WindowDurationMins: &mins},
		Secondary: &proto.RateLimitWindow{UsedPercent: 70},
	})
	l.RecordRateLimits(proto.RateLimitSnapshot{
		Primary: &proto.RateLimitWindow{UsedPercent: 45},
	})

	snap := l.Snapshot()
	require.NotNil(t, snap.RateLimits)
	require.Equal(t, int64(45), snap.RateLimits.Primary.UsedPercent)
	require.Nil(t, snap.RateLimits.Primary.WindowDurationMins)
	require.Nil(t, snap.RateLimits.Secondary)
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.json")
	l := NewLedger(path, nil)
	l.RecordSample(220)
	l.RecordRateLimits(proto.RateLimitSnapshot{
		Primary: &proto.RateLimitWindow{UsedPercent: 55},
	})

	reloaded := NewLedger(path, nil)
	snap := reloaded.Snapshot()
	require.Equal(t, int64(220), *snap.TotalTokens24h)
	require.Equal(t, int64(55), snap.RateLimits.Primary.UsedPercent)
	require.Len(t, reloaded.points, 1)
}

func TestLedgerEmptySnapshot(t *testing.T) {
	t.Parallel()

	l := NewLedger("", nil)
	snap := l.Snapshot()
	require.Nil(t, snap.TotalTokens24h)
	require.Nil(t, snap.RateLimits)
	require.Equal(t, proto.UsageSourceNone, snap.Source)
}

func TestScanTotalStaysOutOfWindow(t *testing.T) {
	t.Parallel()

	l, _ := testLedger(t)
	l.RecordScanTotal(40)

	snap := l.Snapshot()
	require.Equal(t, int64(40), *snap.TotalTokens24h)
	require.Equal(t, proto.UsageSourceSessions, snap.Source)

	// The scanned total is snapshot-only; the point window stays empty so
	// logs keep being rescanned until live observations arrive.
	require.False(t, l.HasRecentPoints())
	require.Empty(t, l.points)
}

func TestScanTotalIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	l, _ := testLedger(t)
	l.RecordScanTotal(0)
	l.RecordScanTotal(-5)

	snap := l.Snapshot()
	require.Nil(t, snap.TotalTokens24h)
	require.Equal(t, proto.UsageSourceNone, snap.Source)
}

func TestLiveSampleOverridesScanTotal(t *testing.T) {
	t.Parallel()

	l, _ := testLedger(t)
	l.RecordScanTotal(500)
	l.RecordSample(25)

	snap := l.Snapshot()
	require.Equal(t, int64(25), *snap.TotalTokens24h)
	require.Equal(t, proto.UsageSourceAppServer, snap.Source)
}
