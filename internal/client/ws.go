package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// graphql-ws 协议消息类型
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionTerminate = "connection_terminate"
	msgKeepAlive           = "ka"
	msgStart               = "start"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
	msgStop                = "stop"
)

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "graphql-ws"

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSOptions WebSocket 连接配置选项
type WSOptions struct {
	ConnectionTimeout time.Duration // 握手超时时间
	ReadTimeout       time.Duration // 读取超时时间
	WriteTimeout      time.Duration // 写入超时时间
	PingInterval      time.Duration // Ping间隔
	MaxRetries        int           // 最大重试次数
	Header            http.Header
}

// DefaultWSOptions 默认连接选项
func DefaultWSOptions() WSOptions {
	return WSOptions{
		ConnectionTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      20 * time.Second,
		MaxRetries:        3,
	}
}

// WSTransport streams subscriptions over one shared websocket connection
// using the graphql-ws protocol. The connection is dialled on first use and
// re-dialled after it drops.
type WSTransport struct {
	url     string
	options WSOptions
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *wsConn
	nextID uint64
}

// NewWSTransport 创建 WebSocket 传输层；http(s) 地址会被换成 ws(s)。
func NewWSTransport(url string, options WSOptions, logger *zap.Logger) *WSTransport {
	defaults := DefaultWSOptions()
	if options.ConnectionTimeout <= 0 {
		options.ConnectionTimeout = defaults.ConnectionTimeout
	}
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = defaults.ReadTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaults.WriteTimeout
	}
	if options.PingInterval <= 0 {
		options.PingInterval = defaults.PingInterval
	}
	if options.MaxRetries <= 0 {
		options.MaxRetries = defaults.MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	}
	return &WSTransport{url: url, options: options, logger: logger.Named("ws")}
}

// Subscribe starts an operation on the shared connection.
func (t *WSTransport) Subscribe(ctx context.Context, req Request) (<-chan *Response, error) {
	conn, err := t.connection(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.nextID++
	id := strconv.FormatUint(t.nextID, 10)
	t.mu.Unlock()

	out := make(chan *Response, 16)
	if !conn.register(id, out) {
		return nil, errors.New("websocket connection closed")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		conn.unregister(id)
		return nil, errors.Wrap(err, "encode request")
	}
	if err := conn.write(wsMessage{ID: id, Type: msgStart, Payload: payload}); err != nil {
		conn.unregister(id)
		return nil, errors.Wrap(err, "start operation")
	}

	go func() {
		select {
		case <-ctx.Done():
			if conn.unregister(id) {
				_ = conn.write(wsMessage{ID: id, Type: msgStop})
			}
		case <-conn.done:
		}
	}()
	return out, nil
}

// Close terminates the connection and ends every stream.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.write(wsMessage{Type: msgConnectionTerminate})
	conn.close()
	return nil
}

func (t *WSTransport) connection(ctx context.Context) (*wsConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && !t.conn.closed() {
		return t.conn, nil
	}
	ws, err := t.connectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	conn := newWSConn(ws, t.options, t.logger)
	if err := conn.init(); err != nil {
		conn.close()
		return nil, err
	}
	go conn.readLoop()
	go conn.pingLoop()
	t.conn = conn
	return conn, nil
}

// connectWithRetry 带重试的连接建立
func (t *WSTransport) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for i := 0; i < t.options.MaxRetries; i++ {
		conn, err := t.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryableError(err) {
			break
		}
		t.logger.Debug("websocket dial failed, retrying", zap.Int("attempt", i+1), zap.Error(err))

		retryDelay := time.Duration(i+1) * 200 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, errors.Wrapf(lastErr, "connect to %s", t.url)
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: t.options.ConnectionTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, t.options.Header)
	if err != nil {
		if resp != nil {
			return nil, &dialError{status: resp.StatusCode, err: err}
		}
		return nil, errors.Wrap(err, "websocket dial")
	}
	return conn, nil
}

type dialError struct {
	status int
	err    error
}

func (e *dialError) Error() string {
	return "websocket handshake failed with status " + strconv.Itoa(e.status) + ": " + e.err.Error()
}

func (e *dialError) Unwrap() error { return e.err }

// IsRetryableError 判断错误是否可重试：握手被拒绝（4xx）不重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var de *dialError
	if errors.As(err, &de) {
		return de.status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// wsConn is one live connection and the operations running on it.
type wsConn struct {
	ws      *websocket.Conn
	options WSOptions
	logger  *zap.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]chan *Response

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, options WSOptions, logger *zap.Logger) *wsConn {
	c := &wsConn{
		ws:      ws,
		options: options,
		logger:  logger,
		subs:    make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(options.ReadTimeout))
	})
	return c
}

// init performs the connection_init / connection_ack handshake.
func (c *wsConn) init() error {
	if err := c.write(wsMessage{Type: msgConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		return errors.Wrap(err, "send connection_init")
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.options.ConnectionTimeout))
	for {
		var msg wsMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "await connection_ack")
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgKeepAlive:
			continue
		case msgConnectionError:
			return errors.Errorf("connection rejected: %s", msg.Payload)
		default:
			return errors.Errorf("unexpected %q before connection_ack", msg.Type)
		}
	}
}

func (c *wsConn) write(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) readLoop() {
	defer c.close()
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		var msg wsMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !c.closed() {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		switch msg.Type {
		case msgData:
			var resp Response
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				resp = Response{Errors: []ErrorEntry{{Message: "decode payload: " + err.Error()}}}
			}
			c.dispatch(msg.ID, &resp)
		case msgError:
			c.dispatch(msg.ID, &Response{Errors: decodeErrors(msg.Payload)})
			c.finish(msg.ID)
		case msgComplete:
			c.finish(msg.ID)
		case msgKeepAlive, msgConnectionAck:
		default:
			c.logger.Debug("ignoring websocket message", zap.String("type", msg.Type))
		}
	}
}

func decodeErrors(payload json.RawMessage) []ErrorEntry {
	var list []ErrorEntry
	if err := json.Unmarshal(payload, &list); err == nil && len(list) > 0 {
		return list
	}
	var single ErrorEntry
	if err := json.Unmarshal(payload, &single); err == nil && single.Message != "" {
		return []ErrorEntry{single}
	}
	return []ErrorEntry{{Message: string(payload)}}
}

// pingLoop 定期发送ping消息
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.options.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("websocket ping failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *wsConn) register(id string, ch chan *Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed() {
		return false
	}
	c.subs[id] = ch
	return true
}

// unregister removes and closes a stream, reporting whether it was live.
func (c *wsConn) unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		close(ch)
	}
	return ok
}

func (c *wsConn) finish(id string) { c.unregister(id) }

func (c *wsConn) dispatch(id string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[id]
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
		c.logger.Warn("subscriber too slow, dropping payload", zap.String("id", id))
	}
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		c.mu.Lock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.mu.Unlock()
	})
}
