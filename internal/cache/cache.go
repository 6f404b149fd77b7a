// Package cache implements a normalized GraphQL result cache.
//
// Responses are split into one entry per identifiable object, keyed by
// "Typename:id", so every query or fragment that selects the same object reads
// the same fields. Watches record the (entry, field) pairs they read and are
// re-evaluated only when one of those pairs changes.
package cache

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/user-table/backend/internal/metrics"
)

// Root entry keys.
const (
	RootQuery        = "ROOT_QUERY"
	RootMutation     = "ROOT_MUTATION"
	RootSubscription = "ROOT_SUBSCRIPTION"
)

// KeyFunc derives the cache key of an object, reporting false when the
// object has no identity and must be stored under its parent.
type KeyFunc func(typename string, obj map[string]any) (string, bool)

// DefaultKeyFunc keys objects by "Typename:id", falling back to "_id".
func DefaultKeyFunc(typename string, obj map[string]any) (string, bool) {
	if typename == "" {
		return "", false
	}
	for _, field := range []string{"id", "_id"} {
		switch id := obj[field].(type) {
		case string:
			if id != "" {
				return Identify(typename, id), true
			}
		case float64:
			return Identify(typename, strconv.FormatFloat(id, 'f', -1, 64)), true
		}
	}
	return "", false
}

// Identify returns the cache key of the object with the given type and id.
func Identify(typename, id string) string {
	return typename + ":" + id
}

// Ref is a stored pointer from a field to another entry.
type Ref struct {
	Key string
}

// Option configures a Cache.
type Option func(*Cache)

// WithKeyFunc overrides how objects are identified.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *Cache) {
		if fn != nil {
			c.keyFunc = fn
		}
	}
}

// WithPossibleTypes declares the concrete types behind abstract type
// conditions, so fragments on interfaces and unions match their members.
func WithPossibleTypes(types map[string][]string) Option {
	return func(c *Cache) {
		for abstract, members := range types {
			set := make(map[string]struct{}, len(members))
			for _, m := range members {
				set[m] = struct{}{}
			}
			c.possibleTypes[abstract] = set
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is safe for concurrent use. Watch callbacks are delivered one at a
// time, outside the cache lock, in the order the changes were applied.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]map[string]any
	index         map[string]map[*Watch]struct{}
	watches       map[*Watch]struct{}
	nextWatchID   uint64
	batchDepth    int
	pending       changeSet
	keyFunc       KeyFunc
	possibleTypes map[string]map[string]struct{}

	deliverMu  sync.Mutex
	delivering bool
	queue      []delivery

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:       make(map[string]map[string]any),
		index:         make(map[string]map[*Watch]struct{}),
		watches:       make(map[*Watch]struct{}),
		pending:       changeSet{},
		keyFunc:       DefaultKeyFunc,
		possibleTypes: make(map[string]map[string]struct{}),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	return c
}

// IdentifyObject returns the cache key of obj using the configured KeyFunc.
func (c *Cache) IdentifyObject(obj map[string]any) (string, bool) {
	typename, _ := obj["__typename"].(string)
	return c.keyFunc(typename, obj)
}

// Batch runs fn and broadcasts the changes it made once it returns, so
// watches see a read-modify-write as a single update.
func (c *Cache) Batch(fn func() error) error {
	c.mu.Lock()
	c.batchDepth++
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	c.batchDepth--
	var changes changeSet
	if c.batchDepth == 0 && len(c.pending) > 0 {
		changes = c.pending
		c.pending = changeSet{}
	}
	deliveries := c.evaluateLocked(changes)
	c.mu.Unlock()

	c.deliver(deliveries)
	return err
}

// Evict removes an entry. References to it read as missing afterwards, and
// list items pointing at it are dropped.
func (c *Cache) Evict(key string) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	changes := changeSet{}
	for field := range entry {
		changes.add(key, field)
	}
	delete(c.entries, key)
	deliveries := c.commitLocked(changes)
	c.mu.Unlock()

	c.deliver(deliveries)
	return true
}

// Reset drops every entry and re-evaluates every watch.
func (c *Cache) Reset() {
	c.mu.Lock()
	changes := changeSet{}
	for key, entry := range c.entries {
		for field := range entry {
			changes.add(key, field)
		}
	}
	c.entries = make(map[string]map[string]any)
	deliveries := c.commitLocked(changes)
	c.mu.Unlock()

	c.deliver(deliveries)
}

// Extract returns a snapshot of every entry. References are rendered as
// {"__ref": key}.
func (c *Cache) Extract() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]map[string]any, len(c.entries))
	for key, entry := range c.entries {
		fields := make(map[string]any, len(entry))
		for field, v := range entry {
			fields[field] = exportValue(v)
		}
		out[key] = fields
	}
	return out
}

// Keys lists the entry keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func exportValue(v any) any {
	switch t := v.(type) {
	case Ref:
		return map[string]any{"__ref": t.Key}
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = exportValue(t[i])
		}
		return out
	default:
		return v
	}
}

// commitLocked records changes, deferring them while a batch is open.
func (c *Cache) commitLocked(changes changeSet) []delivery {
	if len(changes) == 0 {
		return nil
	}
	if c.batchDepth > 0 {
		c.pending.merge(changes)
		return nil
	}
	return c.evaluateLocked(changes)
}

func (c *Cache) typeMatches(condition, typename string) bool {
	if condition == "" || typename == "" || condition == typename {
		return true
	}
	members, ok := c.possibleTypes[condition]
	if !ok {
		return false
	}
	_, ok = members[typename]
	return ok
}

// changeSet maps entry keys to the set of changed storage field names.
type changeSet map[string]map[string]struct{}

func (s changeSet) add(key, field string) {
	fields, ok := s[key]
	if !ok {
		fields = make(map[string]struct{})
		s[key] = fields
	}
	fields[field] = struct{}{}
}

func (s changeSet) merge(other changeSet) {
	for key, fields := range other {
		for field := range fields {
			s.add(key, field)
		}
	}
}

func (s changeSet) intersects(key string, fields map[string]struct{}) bool {
	mine, ok := s[key]
	if !ok {
		return false
	}
	if len(mine) > len(fields) {
		mine, fields = fields, mine
	}
	for field := range mine {
		if _, hit := fields[field]; hit {
			return true
		}
	}
	return false
}

func (s changeSet) String() string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return fmt.Sprint(keys)
}
