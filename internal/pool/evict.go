package pool

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Evict runs one eviction sweep: for every key it destroys idle
// connections idle longer than MinEvictableIdleTime (keeping MinIdle),
// optionally validates the remaining idle ones, tops the key back up to
// MinIdle and finally forgets keys with nothing left.
//
// Only idle entries are considered, and each is removed from the idle list
// under the key's lock before it is destroyed, so a concurrent Borrow either
// claimed it first or never sees it.
func (p *Pool[C]) Evict(ctx context.Context) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	cfg := p.cfg
	keys := make(map[string]*subPool[C], len(p.keys))
	for k, sp := range p.keys {
		keys[k] = sp
	}
	p.mu.RUnlock()

	now := time.Now()
	evicted := 0
	for key, sp := range keys {
		evicted += p.evictKey(ctx, cfg, key, sp, now)
		if cfg.TestWhileIdle {
			p.testIdle(ctx, cfg, key, sp)
		}
		if err := p.ensureMinIdle(ctx, cfg, key); err != nil {
			p.logger.Warn("eviction: refill min idle", zap.String("key", key), zap.Error(err))
		}
	}
	p.retireEmpty()

	if evicted > 0 {
		p.logger.Info("eviction: destroyed idle connections", zap.Int("count", evicted))
	}
	return nil
}

func (p *Pool[C]) evictKey(ctx context.Context, cfg Config, key string, sp *subPool[C], now time.Time) int {
	if cfg.MinEvictableIdleTime <= 0 {
		return 0
	}

	sp.mu.Lock()
	var expired []*entry[C]
	for el := sp.idle.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[C])
		if now.Sub(e.lastUsed) > cfg.MinEvictableIdleTime {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].lastUsed.Before(expired[j].lastUsed) })

	n := sp.idle.Len() - cfg.MinIdle
	if n > len(expired) {
		n = len(expired)
	}
	if n < 0 {
		n = 0
	}
	victims := expired[:n]
	for _, e := range victims {
		sp.idle.Remove(e.elem)
		e.elem = nil
	}
	sp.mu.Unlock()

	for _, e := range victims {
		p.logger.Debug("evicting idle connection", zap.String("key", key),
			zap.Duration("idle", now.Sub(e.lastUsed)))
		p.destroy(ctx, key, e.conn)
	}
	return len(victims)
}

// testIdle validates idle connections one at a time, outside the lock.
// The entry under test is invisible to Borrow but does not count against
// MaxActive, so a borrower creates instead of failing while it is checked.
// A valid entry returns to its place in the idle list.
func (p *Pool[C]) testIdle(ctx context.Context, cfg Config, key string, sp *subPool[C]) {
	sp.mu.Lock()
	snapshot := make([]*entry[C], 0, sp.idle.Len())
	for el := sp.idle.Front(); el != nil; el = el.Next() {
		snapshot = append(snapshot, el.Value.(*entry[C]))
	}
	sp.mu.Unlock()

	for _, e := range snapshot {
		sp.mu.Lock()
		if e.elem == nil {
			// Borrowed or evicted since the snapshot.
			sp.mu.Unlock()
			continue
		}
		mark := sp.detachIdle(e)
		sp.testing++
		sp.mu.Unlock()

		valid := p.factory.Validate(ctx, key, e.conn)

		sp.mu.Lock()
		sp.testing--
		keep := valid && !sp.retired && withinLimit(sp.idle.Len(), cfg.MaxIdle)
		if keep {
			sp.reattachIdle(e, mark)
		}
		sp.signalLocked()
		sp.mu.Unlock()

		if !keep {
			p.logger.Warn("eviction: dropping idle connection after validation", zap.String("key", key), zap.Bool("valid", valid))
			p.destroy(ctx, key, e.conn)
		}
	}
}

// Prepare creates idle connections for key until it holds MinIdle of them,
// within MaxActive and MaxTotal.
func (p *Pool[C]) Prepare(ctx context.Context, key string) error {
	return p.ensureMinIdle(ctx, p.Config(), key)
}

func (p *Pool[C]) ensureMinIdle(ctx context.Context, cfg Config, key string) error {
	if cfg.MinIdle <= 0 {
		return nil
	}

	for {
		_, sp, err := p.subPool(key)
		if err != nil {
			return err
		}

		sp.mu.Lock()
		if sp.retired {
			sp.mu.Unlock()
			continue
		}
		needed := cfg.MinIdle - sp.idle.Len()
		if needed <= 0 || !withinLimit(sp.load()+sp.idle.Len(), cfg.MaxActive) || !p.reserve(cfg.MaxTotal) {
			sp.mu.Unlock()
			return nil
		}
		sp.creating++
		sp.mu.Unlock()

		conn, err := p.factory.Create(ctx, key)

		sp.mu.Lock()
		sp.creating--
		if err != nil {
			sp.signalLocked()
			sp.mu.Unlock()
			p.release()
			return &CreateError{Key: key, Err: err}
		}
		if sp.retired {
			sp.mu.Unlock()
			p.destroy(ctx, key, conn)
			return ErrClosed
		}
		now := time.Now()
		e := &entry[C]{key: key, conn: conn, createdAt: now, lastUsed: now}
		e.elem = sp.idle.PushBack(e)
		sp.signalLocked()
		sp.mu.Unlock()

		p.logger.Debug("pre-warmed idle connection", zap.String("key", key))
	}
}

// retireEmpty drops sub-pools that hold nothing. Waiters on a retired
// sub-pool wake up and fetch a fresh one.
func (p *Pool[C]) retireEmpty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, sp := range p.keys {
		sp.mu.Lock()
		if sp.empty() {
			sp.retired = true
			sp.signalLocked()
			delete(p.keys, key)
		}
		sp.mu.Unlock()
	}
}
