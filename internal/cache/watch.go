package cache

import (
	"reflect"
	"sort"
	"sync"
)

// Watch kinds, used as metric labels.
const (
	KindQuery    = "query"
	KindFragment = "fragment"
)

// Result is one evaluation of a watch.
type Result struct {
	Data map[string]any
	// Err is a *MissingFieldError when the data is partial.
	Err error
}

// Complete reports whether every selected field was available.
func (r Result) Complete() bool { return r.Err == nil }

// Watch keeps a query or fragment result current. It is re-evaluated only
// when a field it read changes, and its callback fires only when the
// re-evaluated result differs from the previous one.
type Watch struct {
	id   uint64
	kind string
	c    *Cache
	eval func(track bool) (map[string]any, changeSet, error)
	fn   func(Result)

	// Guarded by c.mu.
	deps        changeSet
	last        Result
	evaluations int
	stopped     bool

	stopOnce sync.Once
}

// Watch observes an operation result.
func (c *Cache) Watch(op Operation, fn func(Result)) *Watch {
	return c.addWatch(KindQuery, func(track bool) (map[string]any, changeSet, error) {
		return c.readQueryLocked(op, track)
	}, fn)
}

// WatchFragment observes a single entry through a fragment.
func (c *Cache) WatchFragment(f Fragment, fn func(Result)) *Watch {
	return c.addWatch(KindFragment, func(track bool) (map[string]any, changeSet, error) {
		return c.readFragmentLocked(f, track)
	}, fn)
}

func (c *Cache) addWatch(kind string, eval func(bool) (map[string]any, changeSet, error), fn func(Result)) *Watch {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextWatchID++
	w := &Watch{id: c.nextWatchID, kind: kind, c: c, eval: eval, fn: fn}
	data, deps, err := eval(true)
	w.last = Result{Data: data, Err: err}
	c.watches[w] = struct{}{}
	c.reindexLocked(w, deps)
	return w
}

// Current returns the latest evaluation.
func (w *Watch) Current() Result {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.last
}

// Evaluations counts re-evaluations triggered by cache changes since the
// watch was created.
func (w *Watch) Evaluations() int {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.evaluations
}

// Stop detaches the watch and drops its queued callbacks.
func (w *Watch) Stop() {
	w.stopOnce.Do(func() {
		c := w.c
		c.mu.Lock()
		w.stopped = true
		delete(c.watches, w)
		c.reindexLocked(w, nil)
		c.mu.Unlock()
	})
}

func (c *Cache) reindexLocked(w *Watch, deps changeSet) {
	for key := range w.deps {
		if _, still := deps[key]; still {
			continue
		}
		if set, ok := c.index[key]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(c.index, key)
			}
		}
	}
	for key := range deps {
		set, ok := c.index[key]
		if !ok {
			set = make(map[*Watch]struct{})
			c.index[key] = set
		}
		set[w] = struct{}{}
	}
	w.deps = deps
}

type delivery struct {
	w      *Watch
	result Result
}

// evaluateLocked re-evaluates the watches whose dependencies intersect
// changes and returns the callbacks to run.
func (c *Cache) evaluateLocked(changes changeSet) []delivery {
	if len(changes) == 0 {
		return nil
	}
	c.metrics.CacheBroadcast()

	dirty := make(map[*Watch]struct{})
	for key := range changes {
		for w := range c.index[key] {
			if changes.intersects(key, w.deps[key]) {
				dirty[w] = struct{}{}
			}
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	ordered := make([]*Watch, 0, len(dirty))
	for w := range dirty {
		ordered = append(ordered, w)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	var out []delivery
	for _, w := range ordered {
		w.evaluations++
		c.metrics.WatchEvaluated(w.kind)
		data, deps, err := w.eval(true)
		c.reindexLocked(w, deps)
		next := Result{Data: data, Err: err}
		if sameResult(w.last, next) {
			continue
		}
		w.last = next
		if w.fn != nil {
			out = append(out, delivery{w: w, result: next})
		}
	}
	return out
}

// deliver runs callbacks one at a time. A callback that writes to the cache
// queues its own deliveries behind the current ones instead of recursing.
func (c *Cache) deliver(items []delivery) {
	if len(items) == 0 {
		return
	}
	c.deliverMu.Lock()
	c.queue = append(c.queue, items...)
	if c.delivering {
		c.deliverMu.Unlock()
		return
	}
	c.delivering = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.deliverMu.Unlock()

		c.mu.Lock()
		stopped := next.w.stopped
		c.mu.Unlock()
		if !stopped {
			next.w.fn(next.result)
		}

		c.deliverMu.Lock()
	}
	c.delivering = false
	c.deliverMu.Unlock()
}

func sameResult(a, b Result) bool {
	if (a.Err == nil) != (b.Err == nil) {
		return false
	}
	if a.Err != nil && a.Err.Error() != b.Err.Error() {
		return false
	}
	return reflect.DeepEqual(a.Data, b.Data)
}
