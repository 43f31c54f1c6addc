package bitwig

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type bridgeScript func(method string, params map[string]any) (any, *rpcError)

// newBridge runs a fake controller extension that answers one websocket
// session per HTTP request. When oneShot is set the session is torn down
// after the first reply so clients observe a dropped link.
func newBridge(t *testing.T, oneShot bool, script bridgeScript) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64         `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := map[string]any{"id": req.ID}
			result, rpcErr := script(req.Method, req.Params)
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else if result != nil {
				resp["result"] = result
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			if oneShot {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDecodesResult(t *testing.T) {
	srv := newBridge(t, false, func(method string, _ map[string]any) (any, *rpcError) {
		if method != "track.count" {
			t.Errorf("unexpected method %q", method)
		}
		return map[string]any{"count": 5}, nil
	})

	client := NewClient(srv.URL, "", time.Second, nil)
	defer client.Close()

	if client.Connected() {
		t.Fatal("expected client to start disconnected")
	}
	count, err := client.TrackCount(context.Background())
	if err != nil {
		t.Fatalf("TrackCount: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 tracks, got %d", count)
	}
	if !client.Connected() {
		t.Fatal("expected client to report connected after a call")
	}
}

func TestClientSendsParamsAndToken(t *testing.T) {
	var gotAuth atomic.Value
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req struct {
			ID     uint64         `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "track.select" {
			t.Errorf("unexpected method %q", req.Method)
		}
		if got, ok := req.Params["track"].(float64); !ok || got != 3 {
			t.Errorf("expected track param 3, got %v", req.Params["track"])
		}
		_ = conn.WriteJSON(map[string]any{"id": req.ID})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "sekret", time.Second, nil)
	defer client.Close()

	if err := client.SelectTrack(context.Background(), 3); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	if auth, _ := gotAuth.Load().(string); auth != "Bearer sekret" {
		t.Fatalf("expected bearer token header, got %q", auth)
	}
}

func TestClientMapsRemoteErrors(t *testing.T) {
	srv := newBridge(t, false, func(method string, _ map[string]any) (any, *rpcError) {
		switch method {
		case "track.select":
			return nil, &rpcError{Code: "track_not_found", Message: "no track 9"}
		case "device.select":
			return nil, &rpcError{Code: "device_not_found", Message: "no device 4"}
		case "param.set":
			return nil, &rpcError{Code: "bad_request", Message: "value out of range"}
		default:
			return nil, &rpcError{Code: "internal", Message: "boom"}
		}
	})

	client := NewClient(srv.URL, "", time.Second, nil)
	defer client.Close()
	ctx := context.Background()

	if err := client.SelectTrack(ctx, 9); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
	if err := client.SelectDevice(ctx, 0, 4); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if err := client.SetParameter(ctx, 0, 2.5); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}

	err := client.SelectPage(ctx, 1)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Code != "internal" || callErr.Method != "page.select" {
		t.Fatalf("unexpected call error: %+v", callErr)
	}
}

func TestClientRedialsAfterDrop(t *testing.T) {
	srv := newBridge(t, true, func(string, map[string]any) (any, *rpcError) {
		return map[string]any{"count": 2}, nil
	})

	client := NewClient(srv.URL, "", time.Second, nil)
	defer client.Close()

	var reconnects atomic.Int32
	client.OnReconnect(func() { reconnects.Add(1) })

	ctx := context.Background()
	if _, err := client.TrackCount(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if got := reconnects.Load(); got != 0 {
		t.Fatalf("first session must not count as a reconnect, got %d", got)
	}

	// The bridge closed the session after replying. The next call fails on
	// the dead link, the one after that redials.
	if _, err := client.TrackCount(ctx); !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable on dropped link, got %v", err)
	}
	if client.Connected() {
		t.Fatal("expected disconnected state after transport failure")
	}

	if _, err := client.TrackCount(ctx); err != nil {
		t.Fatalf("call after redial: %v", err)
	}
	if got := reconnects.Load(); got != 1 {
		t.Fatalf("expected exactly one reconnect notification, got %d", got)
	}
}

func TestClientReportsUnreachableBridge(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/rpc", "", 200*time.Millisecond, nil)
	defer client.Close()

	_, err := client.ProjectName(context.Background())
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestToWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8417/rpc": "ws://127.0.0.1:8417/rpc",
		"https://daw.local/rpc":     "wss://daw.local/rpc",
		"ws://127.0.0.1:8417/rpc":   "ws://127.0.0.1:8417/rpc",
		"wss://daw.local/rpc":       "wss://daw.local/rpc",
	}
	for in, want := range cases {
		if got := toWebsocketURL(in); got != want {
			t.Errorf("toWebsocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}
