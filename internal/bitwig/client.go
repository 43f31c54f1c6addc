package bitwig

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultCallTimeout bounds a single RPC round trip when the caller's
// context carries no earlier deadline.
const DefaultCallTimeout = 5 * time.Second

// Client is the websocket RPC link to the controller extension running
// inside the DAW. The selection model upstream is strictly sequential, so
// the client keeps one connection with at most one in-flight request. The
// connection is dialed lazily on first use and redialed after any transport
// failure.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	nextID      uint64
	sawSession  bool
	onReconnect func()

	connected atomic.Bool
}

// NewClient prepares a client for the bridge at rawURL. http(s) URLs are
// rewritten to their websocket scheme. No connection is made until the
// first call.
func NewClient(rawURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		url:     toWebsocketURL(rawURL),
		token:   token,
		timeout: timeout,
		logger:  logger.With("component", "bridge"),
	}
}

// OnReconnect registers a hook that fires whenever a new session replaces a
// previous one, which is the moment any cached host-side state becomes
// stale. The hook runs synchronously on the calling goroutine of the RPC
// that triggered the redial and must not call back into the client.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Connected reports whether a bridge session is currently open. It never
// blocks on in-flight calls.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, ErrBridgeUnavailable, err)
	}

	c.nextID++
	req := rpcRequest{ID: c.nextID, Method: method, Params: params}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		c.drop()
		return fmt.Errorf("%s: %w: write: %w", method, ErrBridgeUnavailable, err)
	}

	_ = conn.SetReadDeadline(deadline)
	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			c.drop()
			return fmt.Errorf("%s: %w: read: %w", method, ErrBridgeUnavailable, err)
		}
		if resp.ID != req.ID {
			// Unsolicited or stale frame; the reply we want is behind it.
			continue
		}
		if resp.Error != nil {
			return remoteError(method, resp.Error.Code, resp.Error.Message)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.connected.Store(true)
	if c.sawSession {
		c.logger.Info("bridge session re-established", "url", c.url)
		if c.onReconnect != nil {
			c.onReconnect()
		}
	} else {
		c.logger.Info("bridge session established", "url", c.url)
	}
	c.sawSession = true
	return conn, nil
}

// drop closes the connection so the next call redials. Callers hold c.mu.
func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

// toWebsocketURL converts an http(s) URL into its ws(s) equivalent and
// leaves ws(s) URLs untouched.
func toWebsocketURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

func (c *Client) ProjectName(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.call(ctx, "project.name", nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

func (c *Client) TrackCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "track.count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) TrackExists(ctx context.Context, track int) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.call(ctx, "track.exists", map[string]any{"track": track}, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *Client) SelectTrack(ctx context.Context, track int) error {
	return c.call(ctx, "track.select", map[string]any{"track": track}, nil)
}

func (c *Client) CreateTrack(ctx context.Context, kind TrackKind) error {
	return c.call(ctx, "track.create", map[string]any{"type": string(kind)}, nil)
}

func (c *Client) DeviceCount(ctx context.Context, track int) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "device.count", map[string]any{"track": track}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) DeviceExists(ctx context.Context, track, device int) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	params := map[string]any{"track": track, "device": device}
	if err := c.call(ctx, "device.exists", params, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *Client) SelectDevice(ctx context.Context, track, device int) error {
	params := map[string]any{"track": track, "device": device}
	return c.call(ctx, "device.select", params, nil)
}

func (c *Client) InsertDevice(ctx context.Context, track, position int, id uuid.UUID) error {
	params := map[string]any{"track": track, "position": position, "id": id.String()}
	return c.call(ctx, "device.insert", params, nil)
}

func (c *Client) DeviceName(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.call(ctx, "device.name", nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

func (c *Client) PageCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, "page.count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) PageNames(ctx context.Context) ([]string, error) {
	var out struct {
		Names []string `json:"names"`
	}
	if err := c.call(ctx, "page.names", nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

func (c *Client) SelectPage(ctx context.Context, page int) error {
	return c.call(ctx, "page.select", map[string]any{"page": page}, nil)
}

func (c *Client) PageParameters(ctx context.Context) ([]ParameterSlot, error) {
	var out struct {
		Parameters []ParameterSlot `json:"parameters"`
	}
	if err := c.call(ctx, "page.params", nil, &out); err != nil {
		return nil, err
	}
	return out.Parameters, nil
}

func (c *Client) SetParameter(ctx context.Context, slot int, value float64) error {
	params := map[string]any{"index": slot, "value": value}
	return c.call(ctx, "param.set", params, nil)
}

func (c *Client) ParameterDisplay(ctx context.Context, slot int) (string, error) {
	var out struct {
		Display string `json:"displayed_value"`
	}
	if err := c.call(ctx, "param.display", map[string]any{"index": slot}, &out); err != nil {
		return "", err
	}
	return out.Display, nil
}
