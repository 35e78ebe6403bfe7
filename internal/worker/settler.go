// Package worker runs the background sweep that settles rounds whose
// betting window has passed, even when no player is connected.
package worker

import (
	"context"
	"time"

	"dicebet/internal/lock"
	"dicebet/internal/logger"
)

const leaseKey = "dicebet:settle"

type RoundSettler interface {
	SettleDue(ctx context.Context, now time.Time) (bool, error)
}

type Settler struct {
	rounds   RoundSettler
	lease    lock.Lease
	interval time.Duration
	now      func() time.Time
}

func NewSettler(rounds RoundSettler, lease lock.Lease, interval time.Duration) *Settler {
	if lease == nil {
		lease = lock.Local{}
	}
	return &Settler{
		rounds:   rounds,
		lease:    lease,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled. A lease taken by a
// sweep is left to expire with its TTL so no other instance sweeps within
// the same interval; it is handed back only on shutdown.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info(ctx).Dur("interval", s.interval).Msg("settler started")
	held := false
	for {
		select {
		case <-ctx.Done():
			if held {
				s.release(context.WithoutCancel(ctx))
			}
			logger.Info(ctx).Msg("settler stopped")
			return
		case <-ticker.C:
			acquired, _ := s.tick(ctx)
			held = held || acquired
		}
	}
}

// tick reports whether it took the lease and whether a round was settled.
func (s *Settler) tick(ctx context.Context) (acquired, settled bool) {
	ok, err := s.lease.TryAcquire(ctx, leaseKey, s.interval)
	if err != nil {
		logger.Warn(ctx).Err(err).Msg("settle lease unavailable")
		return false, false
	}
	if !ok {
		return false, false
	}

	settled, err = s.rounds.SettleDue(ctx, s.now())
	if err != nil {
		logger.Error(ctx).Err(err).Msg("settle sweep failed")
		return true, false
	}
	return true, settled
}

func (s *Settler) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.lease.Release(ctx, leaseKey); err != nil {
		logger.Debug(ctx).Err(err).Msg("release settle lease")
	}
}
