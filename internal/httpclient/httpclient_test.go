package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewAppliesDefaultTimeout(t *testing.T) {
	client := New(Options{})
	if client.Timeout != 120*time.Second {
		t.Fatalf("Timeout = %s, want 120s", client.Timeout)
	}
	client = New(Options{Timeout: 5 * time.Second, PreferIPv4: true})
	if client.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %s, want 5s", client.Timeout)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	body, mime, err := Download(context.Background(), srv.Client(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if string(body) != "png-bytes" || mime != "image/png" {
		t.Fatalf("unexpected download: %q %q", body, mime)
	}
	if _, _, err := Download(context.Background(), srv.Client(), srv.URL+"/missing.png"); err == nil {
		t.Fatalf("expected error for 404")
	}
}
