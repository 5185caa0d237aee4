package captcha

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotConfigured(t *testing.T) {
	for _, tt := range []struct {
		name string
		cli  *Client
	}{
		{"no url", New("", "hunter2")},
		{"no key", New("http://localhost:9999", "")},
		{"neither", New("", "")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cli.Configured() {
				t.Error("client should not report configured")
			}

			if _, err := tt.cli.GetRateLimit(t.Context()); !errors.Is(err, ErrNotConfigured) {
				t.Errorf("wanted ErrNotConfigured, got: %v", err)
			}
		})
	}
}

func TestRelay(t *testing.T) {
	var gotKey, gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-admin-key")
		gotMethod = r.Method
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"limit": 9}`))
	}))
	defer upstream.Close()

	cli := New(upstream.URL, "hunter2")

	resp, err := cli.GetRateLimit(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if gotKey != "hunter2" {
		t.Errorf("admin key not forwarded, got %q", gotKey)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("wanted GET, got %s", gotMethod)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status not relayed, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"limit": 9}` {
		t.Errorf("body not relayed, got %q", string(resp.Body))
	}
	if resp.OK() {
		t.Error("418 should not count as OK")
	}
}

func TestOversizedResponseTruncated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), maxResponseSize+4096))
	}))
	defer upstream.Close()

	cli := New(upstream.URL, "hunter2")

	resp, err := cli.GetRateLimit(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.Body) != maxResponseSize {
		t.Errorf("wanted body capped at %d bytes, got %d", maxResponseSize, len(resp.Body))
	}
}

func TestUpdateForwardsBody(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = make([]byte, r.ContentLength)
		r.Body.Read(gotBody)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cli := New(upstream.URL, "hunter2")

	if _, err := cli.UpdateRateLimit(t.Context(), []byte(`{"limit": 3}`)); err != nil {
		t.Fatal(err)
	}

	if string(gotBody) != `{"limit": 3}` {
		t.Errorf("body not forwarded, got %q", string(gotBody))
	}
}
