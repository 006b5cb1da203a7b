package imagefx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestApplyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, _ := io.ReadAll(r.Body)
		if string(in) != "raw-image" {
			t.Errorf("body = %q", in)
		}
		_, _ = w.Write([]byte("filtered-image"))
	}))
	defer srv.Close()

	f := NewHTTPFilter(srv.URL, 5*time.Second, 0)
	out, err := f.Apply(context.Background(), []byte("raw-image"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if string(out) != "filtered-image" {
		t.Fatalf("Apply() = %q", out)
	}
}

func TestApplySurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "filter crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFilter(srv.URL, 5*time.Second, 0)
	if _, err := f.Apply(context.Background(), []byte("raw")); err == nil {
		t.Fatalf("Apply() expected error")
	}
}

func TestApplyWithoutEndpoint(t *testing.T) {
	f := NewHTTPFilter("", 5*time.Second, 0)
	if _, err := f.Apply(context.Background(), []byte("raw")); err == nil {
		t.Fatalf("Apply() expected not-configured error")
	}
}
