package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/session"
)

const probeTimeout = 30 * time.Second

// ErrNoRateLimits is returned when a probe succeeds but the server reports
// no rate limit data, which happens for accounts without quota windows.
var ErrNoRateLimits = errors.New("usage: server reported no rate limits")

// ProbeRateLimits spawns a short-lived agent server purely to read the
// account rate limits, then kills it. Used when no workspace is connected.
func ProbeRateLimits(ctx context.Context, opts session.SpawnOptions) (*proto.RateLimitSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	sess, err := session.Start(ctx, proto.WorkspaceEntry{ID: "usage-probe"}, opts, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("usage: probe spawn: %w", err)
	}
	defer sess.Close()

	result, err := sess.SendRequest(ctx, proto.MethodRateLimitsRead, nil)
	if err != nil {
		return nil, fmt.Errorf("usage: probe read: %w", err)
	}
	limits := proto.RateLimitsFromJSON(result)
	if limits == nil {
		return nil, ErrNoRateLimits
	}
	return limits, nil
}
