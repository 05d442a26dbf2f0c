package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aminofox/hlsproxy/pkg/config"
	"github.com/aminofox/hlsproxy/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.RateLimitRPM = 0
	log := logger.NewDefaultLogger(logger.ErrorLevel, "text")
	s, err := NewServer(cfg, log)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

const testMasterPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-STREAM-INF:BANDWIDTH=2000000
variant.m3u8
`

func TestHandleManifestRewritesVariantURIs(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testMasterPlaylist)
	}))
	defer origin.Close()

	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/manifest?url=" + origin.URL + "/master.m3u8")
	if err != nil {
		t.Fatalf("GET /manifest: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "/manifest?") {
		t.Fatalf("expected variant URI to be rewritten to /manifest, got: %s", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestHandleManifestMissingURL(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/manifest")
	if err != nil {
		t.Fatalf("GET /manifest: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleSegmentPassThrough(t *testing.T) {
	const payload = "segment-bytes"
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, payload)
	}))
	defer origin.Close()

	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/segment?url=" + origin.URL + "/seg1.ts&f=ts")
	if err != nil {
		t.Fatalf("GET /segment: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(body) != payload {
		t.Fatalf("expected pass-through body %q, got %q", payload, body)
	}
}

func TestHandleKeyStreamsRawBytes(t *testing.T) {
	keyBytes := []byte{0x01, 0x02, 0x03, 0x04}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(keyBytes)
	}))
	defer origin.Close()

	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/key?url=" + origin.URL + "/key.bin")
	if err != nil {
		t.Fatalf("GET /key: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(body) != string(keyBytes) {
		t.Fatalf("expected raw key bytes, got %v", body)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("expected ok status, got %s", body)
	}
}
