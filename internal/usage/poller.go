package usage

import (
	"context"
	"sync"
	"time"

	"github.com/codexola/codexola/internal/log"
)

// Poller periodically refreshes usage in the background. At most one
// polling loop runs at a time; Restart replaces the previous loop.
type Poller struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	refresh func(ctx context.Context)
}

// NewPoller builds a poller invoking the given refresh function.
func NewPoller(refresh func(ctx context.Context)) *Poller {
	return &Poller{refresh: refresh}
}

// Restart stops any running loop and starts a new one with the given
// interval. The first refresh fires immediately, not after one interval.
func (p *Poller) Restart(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx, interval)
}

// Stop halts the polling loop if one is running.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	defer log.RecoverPanic("usage-poller", nil)
	p.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}
