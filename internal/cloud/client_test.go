// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sseServer(t *testing.T, chunks []string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"code":"bad","message":"request rejected"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChatStreamConcatenation(t *testing.T) {
	server := sseServer(t, []string{"He", "llo", " there"}, http.StatusOK)
	defer server.Close()

	client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)
	var got strings.Builder
	err := client.ChatStream(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if got.String() != "Hello there" {
		t.Errorf("content = %q, want %q", got.String(), "Hello there")
	}
}

func TestChatStreamStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusPaymentRequired, ErrInsufficientCredits},
		{http.StatusNotFound, ErrModelNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			server := sseServer(t, nil, tt.status)
			defer server.Close()

			client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)
			err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(string) error {
				t.Error("fragment callback ran on error response")
				return nil
			})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestChatStreamUnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, `{"error":{"code":"teapot","message":"short and stout"}}`)
	}))
	defer server.Close()

	client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(string) error { return nil })

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusTeapot {
		t.Errorf("Status = %d, want %d", statusErr.Status, http.StatusTeapot)
	}
}

func TestChatStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.ChatStream(ctx, ChatRequest{Model: "m"}, func(fragment string) error {
			if fragment == "first" {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not abort the stream")
	}
}

func TestChatStreamNotConfigured(t *testing.T) {
	client := NewClient("")
	err := client.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(string) error { return nil })
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"code":"oops","message":"transient"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"r1","model":"m","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Chat failed after retries: %v", err)
	}
	if resp.GetContent() != "ok" {
		t.Errorf("content = %q, want %q", resp.GetContent(), "ok")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestChatDoesNotRetryAuthFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"invalid_key","message":"bad key"}}`)
	}))
	defer server.Close()

	client := NewClient("sk-bad-key-00000").WithBaseURL(server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
	if calls != 1 {
		t.Errorf("auth failure retried: %d calls", calls)
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q, want /models", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"a/one","name":"One","context_length":8192},{"id":"b/two","name":"Two","context_length":32768}]}`)
	}))
	defer server.Close()

	client := NewClient("sk-test-key-12345").WithBaseURL(server.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a/one" || models[1].ContextSize != 32768 {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestAPIKeyMasked(t *testing.T) {
	if got := NewClient("sk-or-v1-abcdef1234567890").APIKeyMasked(); strings.Contains(got, "abcdef12345") {
		t.Errorf("mask leaks key material: %q", got)
	}
	if got := NewClient("short").APIKeyMasked(); got != "***" {
		t.Errorf("short key mask = %q, want ***", got)
	}
}
