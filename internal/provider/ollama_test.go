package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func ollamaServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) == 0 || req.Messages[len(req.Messages)-1].Role != "user" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"last message must be from the user"}`)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i, f := range frames {
			done := i == len(frames)-1
			fmt.Fprintf(w, `{"model":"m","message":{"role":"assistant","content":%q},"done":%t}`+"\n", f, done)
		}
	}))
}

func TestOllama_StreamsFrames(t *testing.T) {
	srv := ollamaServer(t, []string{"Hel", "lo, ", "world!", ""})
	defer srv.Close()

	p, err := NewOllama(Config{BaseURL: srv.URL, Model: "m"})
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	frags, err := collect(p.Stream(context.Background(), []Turn{{Role: "user", Content: "q"}}, "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(frags, "|") != "Hel|lo, |world!" {
		t.Fatalf("unexpected fragments: %q", frags)
	}
}

func TestOllama_EarlyStopDoesNotYieldError(t *testing.T) {
	srv := ollamaServer(t, []string{"a", "b", "c", ""})
	defer srv.Close()

	p, _ := NewOllama(Config{BaseURL: srv.URL})
	var frags []string
	for f, err := range p.Stream(context.Background(), nil, "hi") {
		if err != nil {
			t.Fatalf("unexpected error after early stop: %v", err)
		}
		frags = append(frags, f)
		break
	}
	if len(frags) != 1 {
		t.Fatalf("expected a single fragment, got %q", frags)
	}
}

func TestOllama_UnreachableServer(t *testing.T) {
	srv := ollamaServer(t, nil)
	url := srv.URL
	srv.Close()

	p, _ := NewOllama(Config{BaseURL: url})
	_, err := collect(p.Stream(context.Background(), nil, "hi"))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewOllama_BadURL(t *testing.T) {
	if _, err := NewOllama(Config{BaseURL: "://bad"}); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error for bad URL, got %v", err)
	}
}
