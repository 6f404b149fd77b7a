package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/pkg/errors"
)

// Request is a GraphQL request as sent over the wire.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response as received from the wire.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []ErrorEntry    `json:"errors,omitempty"`
}

// Transport executes queries and mutations.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Subscriber streams subscription results. The channel is closed when the
// stream ends or ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, req Request) (<-chan *Response, error)
}

// maxResponseBytes 限制单个响应体大小。
const maxResponseBytes = 16 << 20

// HTTPTransport posts JSON requests to a GraphQL endpoint.
type HTTPTransport struct {
	URL    string
	Client *http.Client
	Header http.Header
}

// NewHTTPTransport 创建 HTTP 传输层
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "post graphql request")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("graphql endpoint returned %s: %s", httpResp.Status, bytes.TrimSpace(raw))
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &resp, nil
}

// LocalTransport executes requests against an in-process schema. Responses
// go through the same JSON encoding as a network round trip, and Latency
// delays each one to simulate the network.
type LocalTransport struct {
	Schema  *graphql.Schema
	Latency time.Duration
}

func (t *LocalTransport) Do(ctx context.Context, req Request) (*Response, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return convert(t.Schema.Exec(ctx, req.Query, req.OperationName, req.Variables))
}

func (t *LocalTransport) Subscribe(ctx context.Context, req Request) (<-chan *Response, error) {
	results, err := t.Schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	out := make(chan *Response)
	go func() {
		defer close(out)
		for result := range results {
			resp, err := convert(result)
			if err != nil {
				resp = &Response{Errors: []ErrorEntry{{Message: err.Error()}}}
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *LocalTransport) wait(ctx context.Context) error {
	if t.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func convert(result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "encode response")
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &resp, nil
}
