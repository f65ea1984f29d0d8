package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labcoat-dev/labcoat/internal/config"
	"github.com/labcoat-dev/labcoat/internal/research"
)

func testGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewGateway(config.ModelConfig{
		Name:        "gpt-4o",
		BaseURL:     srv.URL,
		MaxTokens:   100,
		Temperature: 0.7,
		TimeoutSecs: 5,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gw
}

func TestGenerateSuccess(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Score: 8\nSolid idea."}}]}`))
	})

	text, err := gw.Generate(context.Background(), Request{
		Prompt: "evaluate this idea",
		Stage:  research.KindEvaluation,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Score: 8\nSolid idea." {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestGenerateRateLimitIsTransient(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limit exceeded"}}`, http.StatusTooManyRequests)
	})

	_, err := gw.Generate(context.Background(), Request{Prompt: "x"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if IsFatal(err) {
		t.Error("rate limit error should not be fatal")
	}
}

func TestGenerateServerErrorIsTransient(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	_, err := gw.Generate(context.Background(), Request{Prompt: "x"})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGenerateAuthErrorIsFatal(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	})

	_, err := gw.Generate(context.Background(), Request{Prompt: "x"})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if IsTransient(err) {
		t.Error("auth error should not be transient")
	}
}

func TestGenerateEmptyPromptIsFatal(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called for an empty prompt")
	})

	_, err := gw.Generate(context.Background(), Request{Prompt: ""})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error for empty prompt, got %v", err)
	}
}

func TestGenerateCancellation(t *testing.T) {
	gw := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Generate(ctx, Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if IsTransient(err) || IsFatal(err) {
		t.Errorf("cancellation must surface as a context error, got %v", err)
	}
}

func TestNewGatewayMissingKey(t *testing.T) {
	t.Setenv("LABCOAT_TEST_EMPTY_KEY", "")
	_, err := NewGateway(config.ModelConfig{
		BaseURL:   "http://localhost:1",
		APIKeyEnv: "LABCOAT_TEST_EMPTY_KEY",
	})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}
