// Package client is a GraphQL client backed by the normalized cache.
//
// Queries are answered from the cache when possible and otherwise fetched
// through a Transport, with identical in-flight fetches coalesced. Mutation
// results are merged into the cache in the order the mutations were issued,
// so a slow response never overwrites a newer one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/user-table/backend/internal/cache"
	"github.com/zhouzirui/user-table/backend/internal/gqldoc"
	"github.com/zhouzirui/user-table/backend/internal/metrics"
)

// FetchPolicy decides where a query is answered from.
type FetchPolicy int

const (
	// CacheFirst answers from the cache when it holds every field and
	// fetches otherwise.
	CacheFirst FetchPolicy = iota
	// NetworkOnly always fetches and writes the result to the cache.
	NetworkOnly
	// CacheOnly never fetches.
	CacheOnly
)

func (p FetchPolicy) String() string {
	switch p {
	case NetworkOnly:
		return "network-only"
	case CacheOnly:
		return "cache-only"
	default:
		return "cache-first"
	}
}

// Options configures a Client. Transport is required.
type Options struct {
	Transport Transport
	// Subscriber streams subscriptions. When nil, Transport is used if it
	// implements Subscriber.
	Subscriber Subscriber
	Cache      *cache.Cache
	Registry   *gqldoc.Registry
	// MaxDocuments bounds the parsed-document cache.
	MaxDocuments int64
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Client is safe for concurrent use.
//
// Mutation update hooks and watch callbacks run while the mutation result is
// being applied and must not call Mutate synchronously.
type Client struct {
	transport  Transport
	subscriber Subscriber
	cache      *cache.Cache
	parser     *gqldoc.Parser
	logger     *zap.Logger

	flight singleflight.Group

	seq     atomic.Uint64
	applyMu sync.Mutex
	applied map[string]uint64
}

func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := opts.Cache
	if c == nil {
		c = cache.New(cache.WithLogger(logger), cache.WithMetrics(opts.Metrics))
	}
	parser, err := gqldoc.NewParser(opts.Registry, gqldoc.ParserConfig{MaxDocuments: opts.MaxDocuments}, opts.Metrics)
	if err != nil {
		return nil, err
	}
	sub := opts.Subscriber
	if sub == nil {
		sub, _ = opts.Transport.(Subscriber)
	}
	return &Client{
		transport:  opts.Transport,
		subscriber: sub,
		cache:      c,
		parser:     parser,
		logger:     logger.Named("client"),
		applied:    make(map[string]uint64),
	}, nil
}

// Cache returns the normalized cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Close releases the document cache.
func (c *Client) Close() { c.parser.Close() }

// RegisterFragments makes fragment definitions available to every document
// parsed afterwards.
func (c *Client) RegisterFragments(src string) error {
	return c.parser.Registry().Register(src)
}

// Document parses src against the fragment registry.
func (c *Client) Document(src string) (*gqldoc.Document, error) {
	return c.parser.Parse(src)
}

// QueryOptions tunes a single query.
type QueryOptions struct {
	OperationName string
	Policy        FetchPolicy
}

// Query answers a query according to its fetch policy. With CacheOnly a
// partial result is returned with an error matching cache.ErrMissingField.
func (c *Client) Query(ctx context.Context, src string, vars map[string]any, opts QueryOptions) (map[string]any, error) {
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	op := cache.Operation{Document: doc.AST, Name: opts.OperationName, Variables: vars}

	if opts.Policy != NetworkOnly {
		data, err := c.cache.ReadQuery(op)
		if err == nil || opts.Policy == CacheOnly {
			return data, err
		}
		if !errors.Is(err, cache.ErrMissingField) {
			return nil, err
		}
	}
	return c.fetch(ctx, doc, op)
}

// fetch sends the query, coalescing identical requests already in flight,
// and writes the result to the cache once.
func (c *Client) fetch(ctx context.Context, doc *gqldoc.Document, op cache.Operation) (map[string]any, error) {
	key, err := flightKey(doc.Printed, op.Name, op.Variables)
	if err != nil {
		return nil, err
	}
	// 共享请求不跟随任何单个调用方的取消，调用方各自在下面等待自己的 ctx。
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		resp, err := c.transport.Do(shared, Request{Query: doc.Printed, OperationName: op.Name, Variables: op.Variables})
		if err != nil {
			return nil, err
		}
		data, err := decodeData(resp)
		if data != nil {
			if werr := c.cache.WriteQuery(op, data); werr != nil {
				c.logger.Warn("write query result", zap.String("operation", op.Name), zap.Error(werr))
			}
		}
		return resp, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("coalesced query", zap.String("operation", op.Name))
		}
		if res.Val == nil {
			return nil, res.Err
		}
		// Each caller decodes its own copy of the shared response.
		data, _ := decodeData(res.Val.(*Response))
		return data, res.Err
	}
}

// MutateOptions tunes a single mutation.
type MutateOptions struct {
	OperationName string
	// Update runs inside a cache batch after the result has been written.
	Update func(c *cache.Cache, data map[string]any) error
}

// Mutate sends a mutation and merges its result into the cache. If a
// mutation issued later has already been applied to an entity this result
// carries, the result is returned but not written.
func (c *Client) Mutate(ctx context.Context, src string, vars map[string]any, opts MutateOptions) (map[string]any, error) {
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	op := cache.Operation{Document: doc.AST, Name: opts.OperationName, Variables: vars}
	seq := c.seq.Add(1)

	resp, err := c.transport.Do(ctx, Request{Query: doc.Printed, OperationName: opts.OperationName, Variables: vars})
	if err != nil {
		return nil, err
	}
	data, gqlErr := decodeData(resp)
	if gqlErr != nil || data == nil {
		return data, gqlErr
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	keys := c.entityKeys(data)
	for _, key := range keys {
		if c.applied[key] > seq {
			c.logger.Debug("skipping stale mutation result",
				zap.String("entity", key), zap.Uint64("seq", seq), zap.Uint64("applied", c.applied[key]))
			return data, nil
		}
	}
	for _, key := range keys {
		c.applied[key] = seq
	}

	err = c.cache.Batch(func() error {
		if err := c.cache.WriteQuery(op, data); err != nil {
			return err
		}
		if opts.Update != nil {
			return opts.Update(c.cache, data)
		}
		return nil
	})
	return data, errors.Wrap(err, "apply mutation result")
}

// entityKeys lists the cache keys of the identifiable objects in data.
func (c *Client) entityKeys(data map[string]any) []string {
	var keys []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if key, ok := c.cache.IdentifyObject(t); ok {
				keys = append(keys, key)
			}
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	for _, v := range data {
		walk(v)
	}
	return keys
}

// WatchQuery fetches the query cache-first, then watches it. fn runs on
// every later change of the result.
func (c *Client) WatchQuery(ctx context.Context, src string, vars map[string]any, opts QueryOptions, fn func(cache.Result)) (*cache.Watch, error) {
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	if opts.Policy != CacheOnly {
		if _, err := c.Query(ctx, src, vars, opts); err != nil {
			return nil, err
		}
	}
	return c.cache.Watch(cache.Operation{Document: doc.AST, Name: opts.OperationName, Variables: vars}, fn), nil
}

// WatchFragment watches one entity through a fragment. It never fetches.
func (c *Client) WatchFragment(src, fragmentName, id string, fn func(cache.Result)) (*cache.Watch, error) {
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	if doc.Fragment(fragmentName) == nil {
		return nil, errors.Errorf("fragment %q not found", fragmentName)
	}
	return c.cache.WatchFragment(cache.Fragment{Document: doc.AST, Name: fragmentName, ID: id}, fn), nil
}

// ReadFragment reads one entity through a fragment.
func (c *Client) ReadFragment(src, fragmentName, id string) (map[string]any, error) {
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return c.cache.ReadFragment(cache.Fragment{Document: doc.AST, Name: fragmentName, ID: id})
}

// Subscribe starts a subscription. Each payload is written to the cache and
// passed to fn. The returned channel is closed when the stream ends.
func (c *Client) Subscribe(ctx context.Context, src string, vars map[string]any, fn func(map[string]any, error)) (<-chan struct{}, error) {
	if c.subscriber == nil {
		return nil, ErrNoSubscriber
	}
	doc, err := c.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	op := cache.Operation{Document: doc.AST, Variables: vars}
	stream, err := c.subscriber.Subscribe(ctx, Request{Query: doc.Printed, Variables: vars})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for resp := range stream {
			data, err := decodeData(resp)
			if data != nil {
				if werr := c.cache.WriteQuery(op, data); werr != nil {
					c.logger.Warn("write subscription payload", zap.Error(werr))
				}
			}
			if fn != nil {
				fn(data, err)
			}
		}
	}()
	return done, nil
}

// decodeData returns the response data and, when the response carries
// errors, a *GraphQLError. Both may be non-nil.
func decodeData(resp *Response) (map[string]any, error) {
	var gqlErr error
	if len(resp.Errors) > 0 {
		gqlErr = &GraphQLError{Errors: resp.Errors}
	}
	raw := bytes.TrimSpace(resp.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, gqlErr
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "decode data")
	}
	return data, gqlErr
}

func flightKey(query, operation string, vars map[string]any) (string, error) {
	raw, err := json.Marshal(vars)
	if err != nil {
		return "", errors.Wrap(err, "encode variables")
	}
	return operation + "\x00" + query + "\x00" + string(raw), nil
}
