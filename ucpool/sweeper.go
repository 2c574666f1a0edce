package ucpool

import (
	"context"
	"time"
)

// sweeper runs in a separate goroutine. Every SweepInterval it fails
// overdue waiters, evicts connections that outlived MaxIdleTime or
// MaxLifetime and tops the idle set up to MinIdle.
func (p *Pool) sweeper(ctx context.Context) error {
	p.fillMinIdle(ctx)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := p.now()

	overdue := p.waiters.popExpired(now)
	for _, w := range overdue {
		w.ready <- result{err: ErrAcquireTimeout}
	}

	evicted := p.evictLocked(now)
	p.mu.Unlock()

	p.closeAll(evicted)

	if len(overdue) > 0 || len(evicted) > 0 {
		p.logger.Debug().
			Int("overdue_waiters", len(overdue)).
			Int("evicted", len(evicted)).
			Msg("sweep")
	}

	p.fillMinIdle(ctx)
}

// evictLocked removes idle connections past MaxLifetime, and those
// past MaxIdleTime as long as more than MinIdle stay idle. The caller
// closes the returned connections.
func (p *Pool) evictLocked(now time.Time) []*pooledConn {
	evicted := p.idle.removeFunc(func(pc *pooledConn) bool {
		if pc.expired(p.cfg.MaxLifetime, now) {
			p.maxLifetimeClosed++
			return true
		}
		return false
	})

	// Oldest first, so the most recently used ones are kept.
	surplus := p.idle.len() - p.cfg.MinIdle
	if surplus > 0 {
		idleExpired := p.idle.removeFunc(func(pc *pooledConn) bool {
			if surplus > 0 && pc.idleExpired(p.cfg.MaxIdleTime, now) {
				surplus--
				p.maxIdleTimeClosed++
				return true
			}
			return false
		})
		evicted = append(evicted, idleExpired...)
	}

	for _, pc := range evicted {
		pc.state = stateClosed
		p.decOpenLocked()
	}

	return evicted
}

// fillMinIdle opens connections until MinIdle are idle or MaxSize is
// reached. It gives up on the first failure until the next sweep.
func (p *Pool) fillMinIdle(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || p.idle.len() >= p.cfg.MinIdle || p.numOpen >= p.cfg.MaxSize {
			p.mu.Unlock()
			return
		}
		p.numOpen++
		p.numPending++
		p.mu.Unlock()

		pc, err := p.factory.create(ctx)

		p.mu.Lock()
		p.numPending--
		if err != nil {
			if ctx.Err() == nil {
				p.createErrors++
			}
			p.decOpenLocked()
			p.mu.Unlock()
			if ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("open idle connection")
			}
			return
		}
		if p.closed {
			p.decOpenLocked()
			p.mu.Unlock()
			_ = p.closeRaw(pc)
			return
		}
		p.putConnLocked(pc, p.now())
		p.mu.Unlock()
	}
}
