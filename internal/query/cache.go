// Package query implements the client side query cache behind the dashboard
// views. A Cache deduplicates fetches per key, keeps results until they go
// stale, retries transient failures and tells subscribers about every state
// transition of the keys they observe.
//
// Ordering: every request issued for a key gets a new generation. Only the
// result of the newest generation may change the key's state, so a slow
// response of a superseded request can never overwrite a newer one.
package query

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Key is anything that can name itself. String is the key's identity: two
// keys with the same String share one entry, one fetch and one persisted copy.
type Key interface {
	comparable
	String() string
}

// FetchFunc performs one attempt at loading the value for key.
type FetchFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// Listener observes state transitions. It runs on the cache's dispatch
// goroutine and may call back into the cache.
type Listener[K Key, V any] func(key K, state State[V])

// Unsubscribe stops a Listener. It only ends the observation; a fetch in
// flight still completes and is cached.
type Unsubscribe func()

// Persister mirrors successful results outside the process so a cold cache
// can be hydrated.
type Persister[V any] interface {
	Load(ctx context.Context, key string) (value V, fetchedAt time.Time, ok bool, err error)
	Save(ctx context.Context, key string, value V, fetchedAt time.Time) error
}

// Options configures a Cache.
type Options[V any] struct {
	// Name is used as the log prefix.
	Name string

	// StaleTime is the maximum age of a result before Get refetches it.
	StaleTime time.Duration

	// ErrorStaleTime is the maximum age of an error before Get tries again.
	// Zero means StaleTime.
	ErrorStaleTime time.Duration

	// GCTime is how long an entry without subscribers survives after its last use.
	GCTime time.Duration

	// FetchTimeout bounds a whole fetch including retries. Zero means no bound.
	FetchTimeout time.Duration

	Retry     RetryPolicy
	Persister Persister[V]

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

type subscription[K Key, V any] struct {
	id uint64
	fn Listener[K, V]
}

type event[K Key, V any] struct {
	key   K
	state State[V]
}

type entry[K Key, V any] struct {
	key        K // the first key seen for this identity; fetches use it
	state      State[V]
	latest     uint64 // generation of the newest request issued
	fetching   bool
	cancel     context.CancelFunc
	listeners  []subscription[K, V]
	waiters    []chan State[V]
	lastAccess time.Time
}

// Cache is a process-wide query cache. Create one with New and release it with Close.
type Cache[K Key, V any] struct {
	opts  Options[V]
	fetch FetchFunc[K, V]
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[K, V]
	global  []subscription[K, V]
	nextID  uint64
	queue   []event[K, V]
	closed  bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wake      chan struct{}
	done      chan struct{}
	fetches   sync.WaitGroup
	dispatch  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Cache that loads values with fetch.
func New[K Key, V any](fetch FetchFunc[K, V], opts Options[V]) *Cache[K, V] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache[K, V]{
		opts:      opts,
		fetch:     fetch,
		now:       now,
		entries:   make(map[string]*entry[K, V]),
		baseCtx:   ctx,
		cancelAll: cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	c.dispatch.Add(1)
	go c.runDispatcher()
	return c
}

// Get returns the current state for key. If there is no entry yet, or the
// last result is older than StaleTime, exactly one fetch is started; a Get
// while a fetch is pending attaches to it instead of issuing another.
func (c *Cache[K, V]) Get(key K) State[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	now := c.now()
	e.lastAccess = now
	if c.needsFetchLocked(e, now) {
		c.startFetchLocked(e)
	}
	return e.state
}

// Peek returns the state for key without touching or fetching it.
func (c *Cache[K, V]) Peek(key K) (State[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return State[V]{}, false
	}
	return e.state, true
}

// Fetch is Get followed by waiting for the outcome of the current request
// (or of a newer one that superseded it).
func (c *Cache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V

	c.mu.Lock()
	e := c.entryLocked(key)
	now := c.now()
	e.lastAccess = now
	if c.needsFetchLocked(e, now) {
		c.startFetchLocked(e)
	}
	if st := e.state; st.IsTerminal() && !e.fetching {
		c.mu.Unlock()
		return st.Data, st.Err
	}
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	ch := make(chan State[V], 1)
	e.waiters = append(e.waiters, ch)
	c.mu.Unlock()

	select {
	case st := <-ch:
		return st.Data, st.Err
	case <-ctx.Done():
		c.removeWaiter(key, ch)
		return zero, ctx.Err()
	}
}

// Refetch issues a new request for key even if one is already pending. The
// new request supersedes the pending one.
func (c *Cache[K, V]) Refetch(key K) State[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	e.lastAccess = c.now()
	if !c.closed {
		c.startFetchLocked(e)
	}
	return e.state
}

// Subscribe registers fn for transitions of key.
func (c *Cache[K, V]) Subscribe(key K, fn Listener[K, V]) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	c.nextID++
	id := c.nextID
	e.listeners = append(e.listeners, subscription[K, V]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[key.String()]; ok {
				e.listeners = removeSubscription(e.listeners, id)
				// The GC window starts when the last observer leaves.
				e.lastAccess = c.now()
			}
		})
	}
}

// SubscribeAll registers fn for transitions of every key.
func (c *Cache[K, V]) SubscribeAll(fn Listener[K, V]) Unsubscribe {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.global = append(c.global, subscription[K, V]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.global = removeSubscription(c.global, id)
		})
	}
}

// Collect evicts entries that have no subscribers, no fetch in flight and
// were last used more than GCTime ago. It returns the number of evictions.
func (c *Cache[K, V]) Collect() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for id, e := range c.entries {
		if len(e.listeners) > 0 || e.fetching || len(e.waiters) > 0 {
			continue
		}
		if now.Sub(e.lastAccess) <= c.opts.GCTime {
			continue
		}
		delete(c.entries, id)
		evicted++
	}
	if evicted > 0 {
		log.Printf("DEBUG: query[%s]: collected %d inactive entries", c.opts.Name, evicted)
	}
	return evicted
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached keys in no particular order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Close cancels fetches in flight, releases blocked Fetch callers with
// ErrClosed and stops notification dispatch.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.cancelAll()
		for _, e := range c.entries {
			for _, ch := range e.waiters {
				ch <- State[V]{Status: StatusError, Err: ErrClosed}
			}
			e.waiters = nil
		}
		c.mu.Unlock()

		close(c.done)
		c.dispatch.Wait()
		c.fetches.Wait()
	})
}

func (c *Cache[K, V]) entryLocked(key K) *entry[K, V] {
	id := key.String()
	e, ok := c.entries[id]
	if !ok {
		e = &entry[K, V]{key: key}
		c.entries[id] = e
	}
	return e
}

func (c *Cache[K, V]) needsFetchLocked(e *entry[K, V], now time.Time) bool {
	if c.closed || e.fetching {
		return false
	}
	if e.state.FetchedAt.IsZero() {
		return true
	}
	maxAge := c.opts.StaleTime
	if e.state.IsError() && c.opts.ErrorStaleTime > 0 {
		maxAge = c.opts.ErrorStaleTime
	}
	return now.Sub(e.state.FetchedAt) > maxAge
}

// startFetchLocked issues a new generation for key, superseding any request
// still in flight, and moves the state to pending.
func (c *Cache[K, V]) startFetchLocked(e *entry[K, V]) {
	key := e.key
	if e.cancel != nil {
		e.cancel()
	}

	hydrate := c.opts.Persister != nil && e.state.FetchedAt.IsZero()

	e.latest++
	gen := e.latest
	fetchID := uuid.NewString()
	e.fetching = true
	e.state = State[V]{
		Status:     StatusPending,
		FetchedAt:  e.state.FetchedAt,
		Generation: gen,
		FetchID:    fetchID,
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.opts.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.baseCtx, c.opts.FetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.baseCtx)
	}
	e.cancel = cancel

	c.emitLocked(key, e.state)

	log.Printf("DEBUG: query[%s]: fetch %s started for %s (generation %d)", c.opts.Name, fetchID, key, gen)

	c.fetches.Add(1)
	go c.runFetch(ctx, cancel, key, gen, fetchID, hydrate)
}

func (c *Cache[K, V]) runFetch(ctx context.Context, cancel context.CancelFunc, key K, gen uint64, fetchID string, hydrate bool) {
	defer c.fetches.Done()
	defer cancel()

	value, fetchedAt, fromStore, err := c.load(ctx, key, fetchID, hydrate)

	c.mu.Lock()
	e, ok := c.entries[key.String()]
	if !ok || e.latest != gen {
		c.mu.Unlock()
		log.Printf("DEBUG: query[%s]: dropping result of superseded fetch %s for %s", c.opts.Name, fetchID, key)
		return
	}

	e.fetching = false
	e.cancel = nil
	if err != nil {
		e.state = State[V]{
			Status:     StatusError,
			Err:        err,
			FetchedAt:  c.now(),
			Generation: gen,
			FetchID:    fetchID,
		}
		log.Printf("ERROR: query[%s]: fetch %s for %s failed: %v", c.opts.Name, fetchID, key, err)
	} else {
		e.state = State[V]{
			Status:     StatusSuccess,
			Data:       value,
			FetchedAt:  fetchedAt,
			Generation: gen,
			FetchID:    fetchID,
		}
	}

	for _, ch := range e.waiters {
		ch <- e.state
	}
	e.waiters = nil
	c.emitLocked(key, e.state)
	c.mu.Unlock()

	if err == nil && !fromStore && c.opts.Persister != nil {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer saveCancel()
		if err := c.opts.Persister.Save(saveCtx, key.String(), value, fetchedAt); err != nil {
			log.Printf("ERROR: query[%s]: persisting %s failed: %v", c.opts.Name, key, err)
		}
	}
}

// load produces the value for one generation: a fresh persisted copy when the
// entry has never been loaded, otherwise the fetcher behind the retry policy.
func (c *Cache[K, V]) load(ctx context.Context, key K, fetchID string, hydrate bool) (V, time.Time, bool, error) {
	if hydrate {
		v, at, ok, err := c.opts.Persister.Load(ctx, key.String())
		switch {
		case err != nil:
			log.Printf("ERROR: query[%s]: loading persisted %s failed: %v", c.opts.Name, key, err)
		case ok && c.now().Sub(at) <= c.opts.StaleTime:
			log.Printf("DEBUG: query[%s]: hydrated %s from persisted copy", c.opts.Name, key)
			return v, at, true, nil
		}
	}

	v, err := runWithRetry(ctx, c.opts.Retry, func(ctx context.Context) (V, error) {
		return c.fetch(ctx, key)
	}, func(attempt uint, err error) {
		log.Printf("query[%s]: fetch %s attempt %d for %s failed: %v", c.opts.Name, fetchID, attempt, key, err)
	})
	return v, c.now(), false, err
}

func (c *Cache[K, V]) removeWaiter(key K, ch chan State[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return
	}
	for i, w := range e.waiters {
		if w == ch {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

func (c *Cache[K, V]) emitLocked(key K, state State[V]) {
	if c.closed {
		return
	}
	c.queue = append(c.queue, event[K, V]{key: key, state: state})
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// runDispatcher delivers queued transitions one at a time, in the order they
// happened, outside the cache lock.
func (c *Cache[K, V]) runDispatcher() {
	defer c.dispatch.Done()

	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 || c.closed {
				c.queue = nil
				c.mu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue[0] = event[K, V]{}
			c.queue = c.queue[1:]

			var targets []Listener[K, V]
			if e, ok := c.entries[ev.key.String()]; ok {
				for _, s := range e.listeners {
					targets = append(targets, s.fn)
				}
			}
			for _, s := range c.global {
				targets = append(targets, s.fn)
			}
			c.mu.Unlock()

			for _, fn := range targets {
				fn(ev.key, ev.state)
			}
		}
	}
}

func removeSubscription[K Key, V any](subs []subscription[K, V], id uint64) []subscription[K, V] {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
