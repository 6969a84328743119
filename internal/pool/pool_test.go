package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testPool(t *testing.T, f Factory[*fakeConn], mutate func(*Config)) *Pool[*fakeConn] {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p := New[*fakeConn](f, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestBorrowReturn_ReusesSingleConnection(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)
	ctx := context.Background()

	var first *fakeConn
	for i := 0; i < 10; i++ {
		c, err := p.Borrow(ctx, "alpha")
		require.NoError(t, err)
		if first == nil {
			first = c
		}
		assert.Same(t, first, c)
		require.NoError(t, p.Return("alpha", c))
	}

	assert.Equal(t, 1, f.numCreated())
	assert.Equal(t, 1, p.NumIdleKey("alpha"))
	assert.Equal(t, 0, p.NumActiveKey("alpha"))
}

func TestBorrow_KeysNeverShareConnections(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)
	ctx := context.Background()

	c1, err := p.Borrow(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, p.Return("k1", c1))

	c2, err := p.Borrow(ctx, "k2")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, "k2", c2.key)
	assert.Equal(t, 1, p.NumIdleKey("k1"))
	assert.Equal(t, 1, p.NumActiveKey("k2"))

	assert.ErrorIs(t, p.Return("k1", c2), ErrUnknownConn)
}

func TestReturn_MaxIdleOverflowIsDestroyed(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 2
		c.MaxIdle = 1
	})
	ctx := context.Background()

	b1, err := p.Borrow(ctx, "alpha")
	require.NoError(t, err)
	b2, err := p.Borrow(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, f.numCreated())

	require.NoError(t, p.Return("alpha", b1))
	assert.Equal(t, 1, p.NumIdleKey("alpha"))
	assert.False(t, f.wasDestroyed(b1))

	require.NoError(t, p.Return("alpha", b2))
	assert.Equal(t, 1, p.NumIdleKey("alpha"))
	assert.True(t, f.wasDestroyed(b2))
	assert.False(t, f.wasDestroyed(b1))
	assert.Equal(t, 1, p.Total())
}

func TestBorrow_ZeroMaxWaitFailsImmediately(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = 0
		c.WhenExhausted = WhenExhaustedBlock
	})
	ctx := context.Background()

	held, err := p.Borrow(ctx, "beta")
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(ctx, "beta")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, p.Return("beta", held))
}

func TestBorrow_FailPolicy(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = time.Hour
		c.WhenExhausted = WhenExhaustedFail
	})
	ctx := context.Background()

	_, err := p.Borrow(ctx, "k")
	require.NoError(t, err)

	_, err = p.Borrow(ctx, "k")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestBorrow_BlockTimesOut(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = 50 * time.Millisecond
	})
	ctx := context.Background()

	_, err := p.Borrow(ctx, "k")
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Borrow(ctx, "k")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "timed out")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBorrow_BlockWakesOnReturn(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = 5 * time.Second
	})
	ctx := context.Background()

	held, err := p.Borrow(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Return("k", held)
	}()

	got, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	assert.Same(t, held, got)
	assert.Equal(t, 1, f.numCreated())
}

func TestBorrow_WaitHonoursContext(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = -1
	})

	_, err := p.Borrow(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Borrow(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestBorrow_GrowPolicy(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxTotal = 1
		c.WhenExhausted = WhenExhaustedGrow
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Borrow(ctx, "k")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.NumActiveKey("k"))
	assert.Equal(t, 3, p.Total())
}

func TestBorrow_ConcurrentNeverExceedsMaxActive(t *testing.T) {
	f := newFakeFactory()
	f.createDelay = time.Millisecond
	const maxActive = 3
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = maxActive
		c.MaxWait = 5 * time.Second
	})

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c, err := p.Borrow(context.Background(), "shared")
				if !assert.NoError(t, err) {
					return
				}
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				inUse.Add(-1)
				assert.NoError(t, p.Return("shared", c))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), maxActive)
	assert.LessOrEqual(t, f.numCreated(), maxActive)
	assert.Equal(t, f.numLive(), p.NumActive()+p.NumIdle())
}

func TestBorrow_InvalidIdleConnectionIsReplaced(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)
	ctx := context.Background()

	c1, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", c1))
	f.markInvalid(c1)

	c2, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.True(t, f.wasDestroyed(c1))
	assert.Equal(t, 1, p.Total())
}

func TestBorrow_ValidationAttemptsBounded(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxValidationAttempts = 2
	})
	ctx := context.Background()

	var conns []*fakeConn
	for i := 0; i < 3; i++ {
		c, err := p.Borrow(ctx, "k")
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		require.NoError(t, p.Return("k", c))
		f.markInvalid(c)
	}

	_, err := p.Borrow(ctx, "k")
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, p.NumIdleKey("k"))
	assert.Equal(t, 2, f.numDestroyed())
}

func TestBorrow_CreateErrorIsSurfaced(t *testing.T) {
	f := newFakeFactory()
	f.createErr = errors.New("engine unreachable")
	p := testPool(t, f, nil)

	_, err := p.Borrow(context.Background(), "k")
	require.Error(t, err)

	var ce *CreateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "k", ce.Key)
	assert.Contains(t, err.Error(), "engine unreachable")
	assert.Equal(t, 0, p.Total())
	assert.Equal(t, 0, p.NumActiveKey("k"))
}

func TestBorrow_MaxTotalDestroysOldestIdleOfOtherKey(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxTotal = 1
		c.MaxWait = 0
	})
	ctx := context.Background()

	a, err := p.Borrow(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, p.Return("a", a))

	b, err := p.Borrow(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", b.key)
	assert.True(t, f.wasDestroyed(a))
	assert.Equal(t, 0, p.NumIdleKey("a"))
	assert.Equal(t, 1, p.Total())

	// Nothing idle left to free: b is borrowed.
	_, err = p.Borrow(ctx, "c")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestReturn_Order(t *testing.T) {
	for _, lifo := range []bool{true, false} {
		t.Run(fmt.Sprintf("lifo=%v", lifo), func(t *testing.T) {
			f := newFakeFactory()
			p := testPool(t, f, func(c *Config) { c.LIFO = lifo })
			ctx := context.Background()

			c1, err := p.Borrow(ctx, "k")
			require.NoError(t, err)
			c2, err := p.Borrow(ctx, "k")
			require.NoError(t, err)
			require.NoError(t, p.Return("k", c1))
			require.NoError(t, p.Return("k", c2))

			next, err := p.Borrow(ctx, "k")
			require.NoError(t, err)
			if lifo {
				assert.Same(t, c2, next)
			} else {
				assert.Same(t, c1, next)
			}
		})
	}
}

func TestReturn_Twice(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)

	c, err := p.Borrow(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", c))
	assert.ErrorIs(t, p.Return("k", c), ErrUnknownConn)
	assert.Equal(t, 1, p.NumIdleKey("k"))
}

func TestReturn_UnknownKey(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)
	assert.ErrorIs(t, p.Return("nope", &fakeConn{}), ErrUnknownConn)
}

func TestReturn_PassivateFailureDestroys(t *testing.T) {
	f := &MockFactory{}
	p := testPool(t, f, nil)
	conn := &fakeConn{id: 1, key: "k"}

	f.On("Create", mock.Anything, "k").Return(conn, nil).Once()
	f.On("Activate", mock.Anything, "k", conn).Return(nil)
	f.On("Passivate", mock.Anything, "k", conn).Return(errors.New("reset failed"))
	f.On("Destroy", mock.Anything, "k", conn).Return(nil).Once()

	got, err := p.Borrow(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", got))

	f.AssertExpectations(t)
	assert.Equal(t, 0, p.NumIdleKey("k"))
	assert.Equal(t, 0, p.Total())
}

func TestInvalidate(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)

	c, err := p.Borrow(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, p.Invalidate("k", c))
	assert.True(t, f.wasDestroyed(c))
	assert.ErrorIs(t, p.Invalidate("k", c), ErrUnknownConn)
	assert.ErrorIs(t, p.Return("k", c), ErrUnknownConn)
}

func TestEvict_DestroysExpiredIdleOnly(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MinEvictableIdleTime = 10 * time.Millisecond
	})
	ctx := context.Background()

	held, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	idle1, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	idle2, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", idle1))
	require.NoError(t, p.Return("k", idle2))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Evict(ctx))

	assert.True(t, f.wasDestroyed(idle1))
	assert.True(t, f.wasDestroyed(idle2))
	assert.False(t, f.wasDestroyed(held))
	assert.Equal(t, 1, p.NumActiveKey("k"))
	assert.Equal(t, 0, p.NumIdleKey("k"))

	require.NoError(t, p.Return("k", held))
}

func TestEvict_KeepsMinIdle(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MinIdle = 1
		c.MinEvictableIdleTime = 10 * time.Millisecond
	})
	ctx := context.Background()

	c1, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	c2, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", c1))
	require.NoError(t, p.Return("k", c2))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Evict(ctx))

	assert.Equal(t, 1, p.NumIdleKey("k"))
	assert.Equal(t, 1, f.numDestroyed())
	// The longest-idle connection goes first.
	assert.True(t, f.wasDestroyed(c1))
}

func TestEvict_FreshIdleSurvives(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MinEvictableIdleTime = time.Hour
	})
	ctx := context.Background()

	c, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", c))

	require.NoError(t, p.Evict(ctx))
	assert.Equal(t, 1, p.NumIdleKey("k"))
	assert.Equal(t, 0, f.numDestroyed())
}

func TestEvict_TestWhileIdle(t *testing.T) {
	for _, lifo := range []bool{true, false} {
		t.Run(fmt.Sprintf("lifo=%v", lifo), func(t *testing.T) {
			f := newFakeFactory()
			p := testPool(t, f, func(c *Config) {
				c.MinEvictableIdleTime = time.Hour
				c.TestWhileIdle = true
				c.LIFO = lifo
			})
			ctx := context.Background()

			conns := make([]*fakeConn, 4)
			for i := range conns {
				c, err := p.Borrow(ctx, "k")
				require.NoError(t, err)
				conns[i] = c
			}
			for _, c := range conns {
				require.NoError(t, p.Return("k", c))
			}
			bad := conns[1]
			f.markInvalid(bad)

			want := []*fakeConn{conns[0], conns[2], conns[3]}
			if lifo {
				want = []*fakeConn{conns[3], conns[2], conns[0]}
			}

			require.NoError(t, p.Evict(ctx))
			assert.True(t, f.wasDestroyed(bad))
			assert.Equal(t, 3, p.NumIdleKey("k"))

			for _, w := range want {
				c, err := p.Borrow(ctx, "k")
				require.NoError(t, err)
				assert.Same(t, w, c, "validation must not reorder the idle list")
			}
		})
	}
}

func TestEvict_TestWhileIdleDoesNotBlockBorrowers(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.WhenExhausted = WhenExhaustedFail
		c.MinEvictableIdleTime = time.Hour
		c.TestWhileIdle = true
	})
	ctx := context.Background()

	idle, err := p.Borrow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, p.Return("k", idle))

	f.validating = make(chan *fakeConn, 1)
	f.validateGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- p.Evict(ctx) }()

	select {
	case c := <-f.validating:
		assert.Same(t, idle, c)
	case <-time.After(2 * time.Second):
		t.Fatal("eviction never validated the idle connection")
	}

	c, err := p.Borrow(ctx, "k")
	require.NoError(t, err, "a connection under validation must not exhaust the key")
	assert.NotSame(t, idle, c)

	close(f.validateGate)
	require.NoError(t, <-done)

	require.NoError(t, p.Return("k", c))
	assert.Equal(t, 2, p.NumIdleKey("k"))
	assert.False(t, f.wasDestroyed(idle))
}

func TestEvict_RefillsMinIdleAndForgetsEmptyKeys(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MinEvictableIdleTime = 10 * time.Millisecond
	})
	ctx := context.Background()

	c, err := p.Borrow(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, p.Return("gone", c))
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, p.Evict(ctx))
	assert.Empty(t, p.Stats())

	p.Update(func(c *Config) { c.MinIdle = 2 })
	_, err = p.Borrow(ctx, "warm")
	require.NoError(t, err)
	require.NoError(t, p.Evict(ctx))
	assert.Equal(t, 2, p.NumIdleKey("warm"))
	assert.Equal(t, 1, p.NumActiveKey("warm"))
}

func TestPrepare(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MinIdle = 3
		c.MaxActive = 2
	})

	require.NoError(t, p.Prepare(context.Background(), "k"))
	assert.Equal(t, 2, p.NumIdleKey("k"), "bounded by MaxActive")
	assert.Equal(t, 2, f.numCreated())
}

func TestClose_DestroysEverythingAndIsTerminal(t *testing.T) {
	f := newFakeFactory()
	f.destroyErr = errors.New("schema already dropped")
	p := New[*fakeConn](f, DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	active, err := p.Borrow(ctx, "a")
	require.NoError(t, err)
	idle, err := p.Borrow(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, p.Return("b", idle))

	require.NotPanics(t, func() { p.Close(ctx) })

	assert.True(t, f.wasDestroyed(active))
	assert.True(t, f.wasDestroyed(idle))
	assert.Equal(t, 0, f.numLive())
	assert.Equal(t, 0, p.Total())

	_, err = p.Borrow(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.Borrow(ctx, "fresh")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Return("a", active), ErrClosed)
	assert.ErrorIs(t, p.Evict(ctx), ErrClosed)

	// Idempotent.
	p.Close(ctx)
	assert.Equal(t, 2, f.numDestroyed())
}

func TestClose_WakesBlockedBorrowers(t *testing.T) {
	f := newFakeFactory()
	p := New[*fakeConn](f, Config{MaxActive: 1, MaxTotal: -1, MaxIdle: 1, MaxWait: -1, WhenExhausted: WhenExhaustedBlock}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := p.Borrow(ctx, "k")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Borrow(ctx, "k")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close(ctx)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked borrow did not wake on close")
	}
}

func TestScheduler_FollowsConfig(t *testing.T) {
	f := newFakeFactory()
	p := New[*fakeConn](f, Config{TimeBetweenEvictionRuns: time.Minute}, zaptest.NewLogger(t))
	s := &MockScheduler{}

	s.On("Reschedule", time.Minute).Return().Once()
	s.On("Reschedule", 5*time.Second).Return().Once()
	s.On("Stop").Return().Once()

	p.SetScheduler(s)
	p.Update(func(c *Config) { c.MaxIdle = 4 }) // interval unchanged
	p.Update(func(c *Config) { c.TimeBetweenEvictionRuns = 5 * time.Second })
	p.Close(context.Background())

	s.AssertExpectations(t)
}

func TestConfigUpdateUnblocksWaiters(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 1
		c.MaxWait = 5 * time.Second
	})
	ctx := context.Background()

	_, err := p.Borrow(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Update(func(c *Config) { c.MaxActive = 2 })
	}()

	_, err = p.Borrow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumActiveKey("k"))
}

func TestStats(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, nil)
	ctx := context.Background()

	a, err := p.Borrow(ctx, "a")
	require.NoError(t, err)
	_, err = p.Borrow(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, p.Return("a", a))

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Key)
	assert.Equal(t, 1, stats[0].Idle)
	assert.Equal(t, 0, stats[0].Active)
	assert.Equal(t, "b", stats[1].Key)
	assert.Equal(t, 1, stats[1].Active)
	assert.False(t, stats[0].LastUsed.IsZero())

	assert.Equal(t, 1, p.NumActive())
	assert.Equal(t, 1, p.NumIdle())
}

func TestBookkeepingMatchesFactory(t *testing.T) {
	f := newFakeFactory()
	p := testPool(t, f, func(c *Config) {
		c.MaxActive = 2
		c.MaxIdle = 1
		c.MaxTotal = 4
		c.MaxWait = 5 * time.Second
	})

	keys := []string{"a", "b", "c"}
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keys[i%len(keys)]
			for j := 0; j < 20; j++ {
				c, err := p.Borrow(context.Background(), key)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, key, c.key)
				if j%7 == 0 {
					assert.NoError(t, p.Invalidate(key, c))
				} else {
					assert.NoError(t, p.Return(key, c))
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, f.numLive(), p.NumActive()+p.NumIdle())
	assert.Equal(t, f.numLive(), p.Total())
	assert.LessOrEqual(t, p.Total(), 4)
}
