package lease

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drives ExpireHolds on a fixed interval.  It is the
// authoritative reclaim path for hold TTLs: whatever the clients
// display locally, a seat becomes AVAILABLE again here.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a periodic hold sweeper.
func NewSweeper(mgr *Manager, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{mgr: mgr, interval: interval, log: log}
}

// Run sweeps until the context is cancelled.  One sweep runs
// immediately so a restarted server reclaims stale holds right away.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sweepOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	if n := s.mgr.ExpireHolds(time.Now().UTC()); n > 0 {
		s.log.Debug("holds reclaimed", zap.Int("count", n))
	}
}
