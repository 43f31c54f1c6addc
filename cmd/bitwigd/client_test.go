package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestErrorFromEnvelope(t *testing.T) {
	err := errorFromEnvelope(404, []byte(`{"error": {"code": "track_not_found", "message": "track 9: track does not exist"}}`))
	if got := err.Error(); got != "track 9: track does not exist (track_not_found)" {
		t.Fatalf("unexpected error %q", got)
	}

	err = errorFromEnvelope(500, []byte("upstream exploded"))
	if !strings.Contains(err.Error(), "HTTP 500") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("unexpected fallback error %q", err)
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBatchCommandReportsFailedOperations(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"executed": 2,
			"results": [
				{"op_id": "op_0_create_tracks", "type": "create_tracks", "status": "success"},
				{"op_id": "op_1_switch_page", "type": "switch_page", "status": "error", "message": "invalid track range"}
			]
		}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, []byte(`{"operations": [{"type": "create_tracks", "args": {"type": "audio", "count": 1}}]}`), 0o644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}

	out, err := runCommand(t, "--server", srv.URL, "batch", path)
	if gotPath != "POST /api/batch" {
		t.Fatalf("unexpected request %q", gotPath)
	}
	if err == nil || !strings.Contains(err.Error(), "1 of 2 operations failed") {
		t.Fatalf("expected failure summary, got %v", err)
	}
	if !strings.Contains(out, "op_1_switch_page") {
		t.Fatalf("results must be printed, got %q", out)
	}
}

func TestBatchCommandRejectsInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	if err := os.WriteFile(path, []byte(`{"operations": [`), 0o644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}
	_, err := runCommand(t, "batch", path)
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("expected local JSON validation error, got %v", err)
	}
}

func TestDevicesCommandRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "eq" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [{"id": "e4815188-ba6f-4d14-bcfc-2dcb8f778ccb", "name": "EQ+", "category": "audio_fx", "vendor": "Bitwig"}]}`))
	}))
	defer srv.Close()

	out, err := runCommand(t, "--server", srv.URL, "devices", "eq")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "EQ+") || !strings.Contains(out, "audio_fx") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStatusCommandPrintsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bridge_connected": true, "project": "Live Set"}`))
	}))
	defer srv.Close()

	out, err := runCommand(t, "--server", srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"project": "Live Set"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("unexpected output %q", out)
	}
}
