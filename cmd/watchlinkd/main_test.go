package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/watchlink/internal/testutil/testlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNotifyPostsToAPI(t *testing.T) {
	testlog.Start(t)
	var gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued","kind":"sms"}`))
	}))
	defer ts.Close()

	out, err := execute(t, "notify", "sms", "hello there", "--sender", "Ada", "--api", ts.URL)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotPath != "/notifications/sms" || gotBody["sender"] != "Ada" || gotBody["body"] != "hello there" {
		t.Fatalf("unexpected request path=%s body=%v", gotPath, gotBody)
	}
	if !strings.Contains(out, "queued sms") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	testlog.Start(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"connector: not connected"}`))
	}))
	defer ts.Close()

	_, err := execute(t, "ping", "--api", strings.TrimPrefix(ts.URL, "http://"))
	if err == nil || !strings.Contains(err.Error(), "409 connector: not connected") {
		t.Fatalf("expected conflict error got=%v", err)
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "watchlink.toml")
	if _, err := execute(t, "config", "init", "--output", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if _, err := execute(t, "config", "init", "--output", path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	out, err := execute(t, "config", "validate", path)
	if err != nil || !strings.HasPrefix(out, "ok ") {
		t.Fatalf("validate out=%q err=%v", out, err)
	}
}

func TestVersionShort(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, "version", "--short")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version out=%q err=%v", out, err)
	}
}
