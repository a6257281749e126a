package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_PlainTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rt := New(Options{Timeout: time.Second})
	if _, ok := rt.(*http.Transport); !ok {
		t.Fatalf("New() without fingerprint = %T, want *http.Transport", rt)
	}

	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestNew_Fingerprint(t *testing.T) {
	rt := New(Options{Fingerprint: true})
	if _, ok := rt.(*chromeTransport); !ok {
		t.Fatalf("New() with fingerprint = %T, want *chromeTransport", rt)
	}
}

func TestChromeTransport_PlainHTTPSkipsH2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Proto))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewChromeTransport(time.Second)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "HTTP/1.1" {
		t.Errorf("proto = %q, want HTTP/1.1", body)
	}
}
