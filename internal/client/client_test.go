package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostAsJsonSuccess(t *testing.T) {
	var gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Rollbar-Access-Token")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"err":0,"result":{"id":"abc"}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), "", false)
	result, err := c.PostAsJson(context.Background(), srv.URL+"/", "my-token", []byte(`{"access_token":"my-token"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotToken != "my-token" {
		t.Errorf("access token header = %q, want %q", gotToken, "my-token")
	}
	if gotPath != "/item/" {
		t.Errorf("request path = %q, want %q", gotPath, "/item/")
	}
	if result.StatusCode != 200 || result.Err != 0 {
		t.Errorf("result = %+v, want StatusCode=200 Err=0", result)
	}
}

func TestPostAsJsonRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.Client(), "", false)
	result, err := c.PostAsJson(context.Background(), srv.URL+"/", "tok", []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != 429 {
		t.Fatalf("status = %d, want 429", result.StatusCode)
	}
	if result.RetryAfter.Seconds() != 5 {
		t.Errorf("retry after = %v, want 5s", result.RetryAfter)
	}
}

func TestPostAsJsonApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"err":1,"message":"invalid body"}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), "", false)
	result, err := c.PostAsJson(context.Background(), srv.URL+"/", "tok", []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err != 1 || result.Message != "invalid body" {
		t.Errorf("result = %+v, want Err=1 Message=%q", result, "invalid body")
	}
}

func TestPostAsJsonGzipsBody(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		w.Write([]byte(`{"err":0}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), "", true)
	_, err := c.PostAsJson(context.Background(), srv.URL+"/", "tok", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEncoding != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", gotEncoding)
	}
}
