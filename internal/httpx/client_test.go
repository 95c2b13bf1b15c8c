package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/qinghaihe378-ai/dexroute/internal/errors"
)

func TestGetJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if _, err := client.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
	if atomic.LoadInt32(&count) != 2 {
		t.Fatalf("expected one retry, saw %d requests", count)
	}
}

func TestGetJSONMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		code   clierr.Code
	}{
		{http.StatusTooManyRequests, clierr.CodeRateLimited},
		{http.StatusForbidden, clierr.CodeAuth},
		{http.StatusNotFound, clierr.CodeUnsupported},
		{http.StatusBadGateway, clierr.CodeUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := New(time.Second, 0)
		_, err := client.GetJSON(context.Background(), srv.URL, nil)
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		cerr, ok := clierr.As(err)
		if !ok || cerr.Code != tc.code {
			t.Fatalf("status %d: got %v, want code %d", tc.status, err, tc.code)
		}
	}
}

func TestGetJSONRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(time.Second, 0)
	var out map[string]any
	_, err := client.GetJSON(context.Background(), srv.URL, &out)
	if err == nil {
		t.Fatal("expected error for empty body")
	}
	cerr, ok := clierr.As(err)
	if !ok || cerr.Code != clierr.CodeUnavailable {
		t.Fatalf("unexpected error: %v", err)
	}
}
