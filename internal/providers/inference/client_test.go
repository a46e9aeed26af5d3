package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"trendtide/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000000000")

func TestGenerateReturnsImageBytes(t *testing.T) {
	var got generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/acme/flux" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer hf_test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "hf_test", BaseURL: srv.URL + "/models", Model: "acme/flux"})
	img, err := client.Generate(context.Background(), Request{Prompt: "neon city"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.MIME != "image/png" || !bytes.Equal(img.Data, pngHeader) {
		t.Fatalf("unexpected image %s %d bytes", img.MIME, len(img.Data))
	}
	if got.Inputs != "neon city" || got.Parameters.Width != DefaultWidth || got.Parameters.Height != DefaultHeight {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestGenerateFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "status", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"model loading"}`, http.StatusServiceUnavailable)
		}},
		{name: "not_image", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}},
		{name: "empty", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			client := NewClient(Options{APIKey: "hf_test", BaseURL: srv.URL})
			_, err := client.Generate(context.Background(), Request{Prompt: "x"})
			if !errors.Is(err, domain.ErrProviderFailure) {
				t.Fatalf("expected provider failure, got %v", err)
			}
		})
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	_, err := NewClient(Options{}).Generate(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
