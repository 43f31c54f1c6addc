package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/patchgrid/bitwigd/internal/bitwig"
	"github.com/patchgrid/bitwigd/internal/bitwig/mock"
	"github.com/patchgrid/bitwigd/internal/cursor"
	"github.com/patchgrid/bitwigd/internal/gateway"
	httpapi "github.com/patchgrid/bitwigd/internal/http"
	"github.com/patchgrid/bitwigd/internal/knowledge"
)

type staticBridge struct{ up bool }

func (b staticBridge) Connected() bool { return b.up }

type recordingReloader struct{ calls atomic.Int32 }

func (r *recordingReloader) TriggerReload() { r.calls.Add(1) }

type errEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*httptest.Server, *mock.Host, *recordingReloader) {
	t.Helper()
	h := mock.NewHost("Live Set")
	tr := h.AddTrack(bitwig.TrackInstrument, "Bass")
	tr.AddDevice(uuid.New(), "Filter",
		mock.NewPage("Cutoff",
			mock.NewSlot(0, "Freq", 0.5, "420 Hz"),
			mock.NewSlot(1, "Res", 0.1, "10 %"),
		),
		mock.NewPage("Mix",
			mock.NewSlot(0, "Wet", 1.0, "100 %"),
		),
	)

	cat, err := knowledge.Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), "", nil)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	cur := cursor.New(h, cursor.Settle{}, nil)
	svc := gateway.New(h, staticBridge{up: true}, cur, cat, gateway.Options{}, nil)
	rel := &recordingReloader{}
	srv := httptest.NewServer(httpapi.New(svc, cat, rel, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, h, rel
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func postJSON(t *testing.T, url, body string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body map[string]any
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["bridge_connected"] != true {
		t.Fatalf("bridge_connected = %v, want true", body["bridge_connected"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var st struct {
		BridgeConnected bool   `json:"bridge_connected"`
		Project         string `json:"project"`
		TrackCount      int    `json:"track_count"`
		KnownDevices    int    `json:"known_devices"`
	}
	getJSON(t, srv.URL+"/api/status", http.StatusOK, &st)
	if !st.BridgeConnected || st.Project != "Live Set" || st.TrackCount != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.KnownDevices < 6 {
		t.Fatalf("expected stock catalog in status, got %+v", st)
	}
}

func TestBatchEndpointRunsOperations(t *testing.T) {
	srv, h, _ := newTestServer(t)
	var resp struct {
		Executed int `json:"executed"`
		Results  []struct {
			OpID   string `json:"op_id"`
			Status string `json:"status"`
		} `json:"results"`
	}
	postJSON(t, srv.URL+"/api/batch",
		`{"operations": [{"type": "create_tracks", "args": {"type": "audio", "count": 2}}]}`,
		http.StatusOK, &resp)

	if resp.Executed != 1 || resp.Results[0].Status != "success" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := h.CallCount("track.create"); got != 2 {
		t.Fatalf("expected 2 track.create calls, got %d", got)
	}
}

func TestBatchEndpointReportsOperationErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var resp struct {
		Executed int `json:"executed"`
		Results  []struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"results"`
	}
	postJSON(t, srv.URL+"/api/batch",
		`{"operations": [{"type": "create_tracks", "args": {"type": "midi", "count": 1}}]}`,
		http.StatusOK, &resp)

	if resp.Results[0].Status != "error" || !strings.Contains(resp.Results[0].Message, "unknown track type") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBatchEndpointRejectsMalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var env errEnvelope
	postJSON(t, srv.URL+"/api/batch", `{"operations": [`, http.StatusBadRequest, &env)
	if env.Error.Code != "invalid_payload" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestBatchEndpointRequiresOperations(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var env errEnvelope
	postJSON(t, srv.URL+"/api/batch", `{}`, http.StatusBadRequest, &env)
	if env.Error.Code != "invalid_payload" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestDevicePagesEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var pages struct {
		Device    string `json:"device"`
		PageCount int    `json:"page_count"`
		Pages     []struct {
			Index int    `json:"index"`
			Name  string `json:"name"`
		} `json:"pages"`
	}
	getJSON(t, srv.URL+"/api/tracks/0/devices/0/pages", http.StatusOK, &pages)
	if pages.Device != "Filter" || pages.PageCount != 2 || pages.Pages[1].Name != "Mix" {
		t.Fatalf("unexpected pages %+v", pages)
	}
}

func TestDevicePagesUnknownTrack(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var env errEnvelope
	getJSON(t, srv.URL+"/api/tracks/9/devices/0/pages", http.StatusNotFound, &env)
	if env.Error.Code != "track_not_found" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestPageSnapshotEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var snap struct {
		PageIndex  int    `json:"page_index"`
		PageName   string `json:"page_name"`
		Parameters []struct {
			Index   int     `json:"index"`
			Value   float64 `json:"value"`
			Display string  `json:"displayed_value"`
		} `json:"parameters"`
	}
	getJSON(t, srv.URL+"/api/tracks/0/devices/0/pages/1", http.StatusOK, &snap)
	if snap.PageName != "Mix" || len(snap.Parameters) != 1 || snap.Parameters[0].Display != "100 %" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestDeviceSnapshotEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var snap struct {
		Device string `json:"device"`
		Pages  []struct {
			PageIndex int    `json:"page_index"`
			PageName  string `json:"page_name"`
		} `json:"pages"`
	}
	getJSON(t, srv.URL+"/api/tracks/0/devices/0/snapshot", http.StatusOK, &snap)
	if snap.Device != "Filter" || len(snap.Pages) != 2 || snap.Pages[0].PageName != "Cutoff" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPathIndexValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{
		"/api/tracks/x/devices/0/pages",
		"/api/tracks/-1/devices/0/pages",
		"/api/tracks/0/devices/0/pages/nope",
	} {
		var env errEnvelope
		getJSON(t, srv.URL+path, http.StatusBadRequest, &env)
		if env.Error.Code != "invalid_index" {
			t.Fatalf("%s: unexpected error %+v", path, env)
		}
	}
}

func TestKnowledgeListEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body struct {
		Items []struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"items"`
	}
	getJSON(t, srv.URL+"/api/knowledge/devices?q=filter", http.StatusOK, &body)
	if len(body.Items) != 2 {
		t.Fatalf("expected Filter and Filter+, got %+v", body.Items)
	}
}

func TestKnowledgeDetailEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var d struct {
		Name  string `json:"name"`
		Pages []struct {
			Name string `json:"name"`
		} `json:"pages"`
	}
	getJSON(t, srv.URL+"/api/knowledge/devices/EQ+", http.StatusOK, &d)
	if d.Name != "EQ+" || len(d.Pages) != 4 {
		t.Fatalf("unexpected detail %+v", d)
	}

	var env errEnvelope
	getJSON(t, srv.URL+"/api/knowledge/devices/NoSuchBox", http.StatusNotFound, &env)
	if env.Error.Code != "unknown_device" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestKnowledgeReloadEndpoint(t *testing.T) {
	srv, _, rel := newTestServer(t)
	postJSON(t, srv.URL+"/api/knowledge/reload", ``, http.StatusAccepted, nil)
	if rel.calls.Load() != 1 {
		t.Fatalf("expected one reload trigger, got %d", rel.calls.Load())
	}
}
