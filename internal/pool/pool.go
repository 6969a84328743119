package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pool keeps one independent sub-pool of connections per key.
//
// Each sub-pool has its own lock, so borrowers of different keys never wait
// on each other's bookkeeping. The global MaxTotal bound is a lock-free
// counter. Factory I/O always runs outside the locks.
type Pool[C comparable] struct {
	factory Factory[C]
	logger  *zap.Logger

	mu        sync.RWMutex
	cfg       Config
	keys      map[string]*subPool[C]
	closed    bool
	scheduler Scheduler

	// total counts connections that are created (or being created) and not
	// yet destroyed.
	total atomic.Int64

	wakeMu sync.Mutex
	wake   chan struct{} // closed whenever global capacity or limits change
}

type entry[C comparable] struct {
	key       string
	conn      C
	createdAt time.Time
	lastUsed  time.Time
	elem      *list.Element // non-nil while in the idle list
}

type subPool[C comparable] struct {
	mu       sync.Mutex
	idle     *list.List // *entry[C]; Borrow takes from the front
	active   map[C]*entry[C]
	creating int
	testing  int
	retired  bool
	wake     chan struct{}
}

func newSubPool[C comparable]() *subPool[C] {
	return &subPool[C]{
		idle:   list.New(),
		active: make(map[C]*entry[C]),
		wake:   make(chan struct{}),
	}
}

func (sp *subPool[C]) signalLocked() {
	close(sp.wake)
	sp.wake = make(chan struct{})
}

// load is what counts against MaxActive. Idle entries under validation do
// not.
func (sp *subPool[C]) load() int {
	return len(sp.active) + sp.creating
}

func (sp *subPool[C]) empty() bool {
	return sp.idle.Len() == 0 && sp.load() == 0 && sp.testing == 0
}

func (sp *subPool[C]) popIdle() *entry[C] {
	el := sp.idle.Front()
	if el == nil {
		return nil
	}
	e := sp.idle.Remove(el).(*entry[C])
	e.elem = nil
	return e
}

// idleMark remembers where a detached idle entry sat.
type idleMark[C comparable] struct {
	prev, next *entry[C]
}

func (sp *subPool[C]) detachIdle(e *entry[C]) idleMark[C] {
	var m idleMark[C]
	if el := e.elem.Prev(); el != nil {
		m.prev = el.Value.(*entry[C])
	}
	if el := e.elem.Next(); el != nil {
		m.next = el.Value.(*entry[C])
	}
	sp.idle.Remove(e.elem)
	e.elem = nil
	return m
}

// reattachIdle puts e back next to a neighbour that is still idle. With
// both gone it goes to the end it was closest to.
func (sp *subPool[C]) reattachIdle(e *entry[C], m idleMark[C]) {
	switch {
	case m.next != nil && m.next.elem != nil:
		e.elem = sp.idle.InsertBefore(e, m.next.elem)
	case m.prev != nil && m.prev.elem != nil:
		e.elem = sp.idle.InsertAfter(e, m.prev.elem)
	case m.prev == nil:
		e.elem = sp.idle.PushFront(e)
	default:
		e.elem = sp.idle.PushBack(e)
	}
}

func (sp *subPool[C]) pushIdle(e *entry[C], lifo bool) {
	if lifo {
		e.elem = sp.idle.PushFront(e)
	} else {
		e.elem = sp.idle.PushBack(e)
	}
}

func New[C comparable](factory Factory[C], cfg Config, logger *zap.Logger) *Pool[C] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[C]{
		factory: factory,
		logger:  logger,
		cfg:     cfg,
		keys:    make(map[string]*subPool[C]),
		wake:    make(chan struct{}),
	}
}

// SetScheduler attaches the eviction scheduler and arms it with the current
// TimeBetweenEvictionRuns. Later interval changes reschedule it.
func (p *Pool[C]) SetScheduler(s Scheduler) {
	p.mu.Lock()
	p.scheduler = s
	interval := p.cfg.TimeBetweenEvictionRuns
	closed := p.closed
	p.mu.Unlock()

	if s != nil && !closed {
		s.Reschedule(interval)
	}
}

func (p *Pool[C]) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Pool[C]) SetConfig(cfg Config) {
	p.Update(func(c *Config) { *c = cfg })
}

// Update applies fn to the configuration under the pool lock. The change
// takes effect on the next pool operation; blocked borrowers re-check
// their limits.
func (p *Pool[C]) Update(fn func(*Config)) {
	p.mu.Lock()
	prev := p.cfg.TimeBetweenEvictionRuns
	fn(&p.cfg)
	next := p.cfg.TimeBetweenEvictionRuns
	sched := p.scheduler
	closed := p.closed
	p.mu.Unlock()

	if sched != nil && !closed && prev != next {
		sched.Reschedule(next)
	}
	p.signalGlobal()
}

// Borrow hands out a connection for key, reusing an idle one when it
// passes validation and creating one when capacity allows. At capacity the
// configured WhenExhausted policy applies.
func (p *Pool[C]) Borrow(ctx context.Context, key string) (C, error) {
	var zero C
	var deadline time.Time
	attempts := 0

	for {
		gwake := p.globalWake()
		cfg, sp, err := p.subPool(key)
		if err != nil {
			return zero, err
		}

		sp.mu.Lock()
		if sp.retired {
			sp.mu.Unlock()
			continue
		}

		if e := sp.popIdle(); e != nil {
			sp.active[e.conn] = e
			sp.mu.Unlock()

			if p.activate(ctx, sp, e) {
				return e.conn, nil
			}
			attempts++
			if attempts >= cfg.validationAttempts() {
				return zero, fmt.Errorf("%w: key %q: %w after %d attempts", ErrExhausted, key, ErrValidation, attempts)
			}
			continue
		}

		canCreate := withinLimit(sp.load(), cfg.MaxActive)
		totalBound := false
		if canCreate && !p.reserve(cfg.MaxTotal) {
			canCreate = false
			totalBound = true
		}
		if !canCreate && cfg.WhenExhausted == WhenExhaustedGrow {
			p.total.Add(1)
			canCreate = true
		}
		if canCreate {
			sp.creating++
			sp.mu.Unlock()
			return p.create(ctx, key, sp)
		}

		lwake := sp.wake
		sp.mu.Unlock()

		if totalBound && p.destroyOldestIdle(ctx) {
			continue
		}

		if cfg.WhenExhausted == WhenExhaustedFail || cfg.MaxWait == 0 {
			return zero, fmt.Errorf("%w: key %q is at capacity", ErrExhausted, key)
		}
		if deadline.IsZero() && cfg.MaxWait > 0 {
			deadline = time.Now().Add(cfg.MaxWait)
		}
		if err := p.wait(ctx, key, lwake, gwake, deadline, cfg.MaxWait); err != nil {
			return zero, err
		}
	}
}

func (p *Pool[C]) wait(ctx context.Context, key string, local, global <-chan struct{}, deadline time.Time, maxWait time.Duration) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return fmt.Errorf("%w: timed out after %s waiting for key %q", ErrExhausted, maxWait, key)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-local:
		return nil
	case <-global:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: timed out after %s waiting for key %q", ErrExhausted, maxWait, key)
	case <-ctx.Done():
		return fmt.Errorf("borrow key %q: %w", key, ctx.Err())
	}
}

// activate runs the borrow-time hooks on a claimed idle entry. A failing
// entry is destroyed and false returned.
func (p *Pool[C]) activate(ctx context.Context, sp *subPool[C], e *entry[C]) bool {
	err := p.factory.Activate(ctx, e.key, e.conn)
	if err == nil {
		if p.factory.Validate(ctx, e.key, e.conn) {
			return true
		}
		err = ErrValidation
	}
	p.logger.Warn("discarding idle connection", zap.String("key", e.key), zap.Error(err))
	p.discard(ctx, sp, e.conn)
	return false
}

func (p *Pool[C]) create(ctx context.Context, key string, sp *subPool[C]) (C, error) {
	var zero C

	conn, err := p.factory.Create(ctx, key)
	if err != nil {
		sp.mu.Lock()
		sp.creating--
		sp.signalLocked()
		sp.mu.Unlock()
		p.release()
		return zero, &CreateError{Key: key, Err: err}
	}

	if err := p.factory.Activate(ctx, key, conn); err != nil {
		sp.mu.Lock()
		sp.creating--
		sp.signalLocked()
		sp.mu.Unlock()
		p.destroy(ctx, key, conn)
		return zero, &CreateError{Key: key, Err: err}
	}

	now := time.Now()
	sp.mu.Lock()
	sp.creating--
	if sp.retired {
		sp.mu.Unlock()
		p.destroy(ctx, key, conn)
		return zero, ErrClosed
	}
	sp.active[conn] = &entry[C]{key: key, conn: conn, createdAt: now, lastUsed: now}
	sp.mu.Unlock()
	return conn, nil
}

// Return gives a borrowed connection back. It becomes idle unless the key
// already holds MaxIdle idle connections, in which case it is destroyed.
func (p *Pool[C]) Return(key string, conn C) error {
	ctx := context.Background()
	cfg, sp, closed := p.lookup(key)
	if sp == nil {
		if closed {
			return ErrClosed
		}
		return ErrUnknownConn
	}

	sp.mu.Lock()
	_, ok := sp.active[conn]
	sp.mu.Unlock()
	if !ok {
		return p.unknown()
	}

	perr := p.factory.Passivate(ctx, key, conn)
	if perr != nil {
		p.logger.Warn("passivate failed, destroying connection", zap.String("key", key), zap.Error(perr))
	}

	sp.mu.Lock()
	e, ok := sp.active[conn]
	if !ok {
		sp.mu.Unlock()
		return p.unknown()
	}
	delete(sp.active, conn)
	keep := perr == nil && !sp.retired && withinLimit(sp.idle.Len(), cfg.MaxIdle)
	if keep {
		e.lastUsed = time.Now()
		sp.pushIdle(e, cfg.LIFO)
	}
	sp.signalLocked()
	sp.mu.Unlock()

	if !keep {
		p.destroy(ctx, key, conn)
		return nil
	}
	// Borrowers of other keys blocked on MaxTotal may now reclaim it.
	p.signalGlobal()
	return nil
}

// Invalidate destroys a borrowed connection instead of returning it.
func (p *Pool[C]) Invalidate(key string, conn C) error {
	_, sp, closed := p.lookup(key)
	if sp == nil {
		if closed {
			return ErrClosed
		}
		return ErrUnknownConn
	}
	if !p.discard(context.Background(), sp, conn) {
		return p.unknown()
	}
	return nil
}

// discard removes conn from the active set and destroys it. It reports
// false when conn was no longer owned, so each connection is destroyed once.
func (p *Pool[C]) discard(ctx context.Context, sp *subPool[C], conn C) bool {
	sp.mu.Lock()
	e, owned := sp.active[conn]
	if owned {
		delete(sp.active, conn)
		sp.signalLocked()
	}
	sp.mu.Unlock()

	if owned {
		p.destroy(ctx, e.key, conn)
	}
	return owned
}

func (p *Pool[C]) unknown() error {
	if p.isClosed() {
		return ErrClosed
	}
	return ErrUnknownConn
}

// destroy tears conn down and frees its slot. Failures are logged and
// returned for aggregation, never retried.
func (p *Pool[C]) destroy(ctx context.Context, key string, conn C) error {
	err := p.factory.Destroy(context.WithoutCancel(ctx), key, conn)
	if err != nil {
		p.logger.Warn("destroy connection", zap.String("key", key), zap.Error(err))
	}
	p.release()
	return err
}

// destroyOldestIdle frees global capacity by destroying the longest-idle
// connection of any key. It reports whether pool state changed.
func (p *Pool[C]) destroyOldestIdle(ctx context.Context) bool {
	p.mu.RLock()
	subs := make([]*subPool[C], 0, len(p.keys))
	for _, sp := range p.keys {
		subs = append(subs, sp)
	}
	p.mu.RUnlock()

	var oldestSP *subPool[C]
	var oldest *entry[C]
	for _, sp := range subs {
		sp.mu.Lock()
		for el := sp.idle.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry[C])
			if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
				oldest, oldestSP = e, sp
			}
		}
		sp.mu.Unlock()
	}
	if oldest == nil {
		return false
	}

	oldestSP.mu.Lock()
	if oldest.elem == nil {
		// Borrowed or evicted in the meantime.
		oldestSP.mu.Unlock()
		return true
	}
	oldestSP.idle.Remove(oldest.elem)
	oldest.elem = nil
	oldestSP.mu.Unlock()

	p.logger.Debug("destroying oldest idle connection to free capacity", zap.String("key", oldest.key))
	p.destroy(ctx, oldest.key, oldest.conn)
	return true
}

// Close destroys every idle and borrowed connection across all keys. It
// always drains completely; failures are logged, not returned. The pool
// is terminal afterwards.
func (p *Pool[C]) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.keys
	p.keys = make(map[string]*subPool[C])
	sched := p.scheduler
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}

	var victims []*entry[C]
	for _, sp := range subs {
		sp.mu.Lock()
		sp.retired = true
		for e := sp.popIdle(); e != nil; e = sp.popIdle() {
			victims = append(victims, e)
		}
		for _, e := range sp.active {
			victims = append(victims, e)
		}
		clear(sp.active)
		sp.signalLocked()
		sp.mu.Unlock()
	}
	p.signalGlobal()

	var errs []error
	for _, e := range victims {
		if err := p.destroy(ctx, e.key, e.conn); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", e.key, err))
		}
	}
	if len(errs) > 0 {
		p.logger.Error("pool closed with destroy failures",
			zap.Int("failed", len(errs)), zap.Error(errors.Join(errs...)))
	}
	p.logger.Info("pool closed", zap.Int("destroyed", len(victims)))
}

func (p *Pool[C]) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// subPool returns the sub-pool for key, creating it on first use.
func (p *Pool[C]) subPool(key string) (Config, *subPool[C], error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Config{}, nil, ErrClosed
	}
	cfg := p.cfg
	sp, ok := p.keys[key]
	p.mu.RUnlock()
	if ok {
		return cfg, sp, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Config{}, nil, ErrClosed
	}
	sp, ok = p.keys[key]
	if !ok {
		sp = newSubPool[C]()
		p.keys[key] = sp
	}
	return p.cfg, sp, nil
}

// lookup returns the existing sub-pool for key without creating one.
func (p *Pool[C]) lookup(key string) (Config, *subPool[C], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.keys[key], p.closed
}

// reserve claims one global slot if MaxTotal allows.
func (p *Pool[C]) reserve(maxTotal int) bool {
	if maxTotal < 0 {
		p.total.Add(1)
		return true
	}
	for {
		cur := p.total.Load()
		if cur >= int64(maxTotal) {
			return false
		}
		if p.total.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (p *Pool[C]) release() {
	p.total.Add(-1)
	p.signalGlobal()
}

func (p *Pool[C]) globalWake() <-chan struct{} {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	return p.wake
}

func (p *Pool[C]) signalGlobal() {
	p.wakeMu.Lock()
	close(p.wake)
	p.wake = make(chan struct{})
	p.wakeMu.Unlock()
}

// KeyStats is a point-in-time view of one sub-pool.
type KeyStats struct {
	Key      string    `json:"key"`
	Active   int       `json:"active"`
	Idle     int       `json:"idle"`
	Creating int       `json:"creating"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// Stats returns one snapshot per key, sorted by key.
func (p *Pool[C]) Stats() []KeyStats {
	p.mu.RLock()
	keys := make(map[string]*subPool[C], len(p.keys))
	for k, sp := range p.keys {
		keys[k] = sp
	}
	p.mu.RUnlock()

	stats := make([]KeyStats, 0, len(keys))
	for k, sp := range keys {
		sp.mu.Lock()
		ks := KeyStats{Key: k, Active: len(sp.active), Idle: sp.idle.Len(), Creating: sp.creating}
		for el := sp.idle.Front(); el != nil; el = el.Next() {
			if e := el.Value.(*entry[C]); e.lastUsed.After(ks.LastUsed) {
				ks.LastUsed = e.lastUsed
			}
		}
		for _, e := range sp.active {
			if e.lastUsed.After(ks.LastUsed) {
				ks.LastUsed = e.lastUsed
			}
		}
		sp.mu.Unlock()
		stats = append(stats, ks)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

func (p *Pool[C]) NumActive() int {
	n := 0
	for _, ks := range p.Stats() {
		n += ks.Active
	}
	return n
}

func (p *Pool[C]) NumIdle() int {
	n := 0
	for _, ks := range p.Stats() {
		n += ks.Idle
	}
	return n
}

func (p *Pool[C]) NumActiveKey(key string) int {
	_, sp, _ := p.lookup(key)
	if sp == nil {
		return 0
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.active)
}

func (p *Pool[C]) NumIdleKey(key string) int {
	_, sp, _ := p.lookup(key)
	if sp == nil {
		return 0
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.idle.Len()
}

// Total is the number of live connections across all keys, including ones
// being created or destroyed.
func (p *Pool[C]) Total() int {
	return int(p.total.Load())
}
