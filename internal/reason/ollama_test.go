package reason

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

func TestOllamaProvider_Compose_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}
		if req.Format != "json" {
			t.Errorf("Expected json format, got %s", req.Format)
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "llama3.1:8b",
			Response:        validDraftJSON,
			Done:            true,
			PromptEvalCount: 200,
			EvalCount:       90,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(model.ReasonConfig{
		BaseURL: server.URL,
		Model:   "llama3.1:8b",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Compose(context.Background(), composeRequestFixture())
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if resp.Draft.ValueType != "percentage" {
		t.Errorf("Expected percentage value type, got %s", resp.Draft.ValueType)
	}
	if resp.TokensUsed != 290 {
		t.Errorf("Expected 290 tokens used, got %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_Compose_RequiresModel(t *testing.T) {
	provider, err := NewOllamaProvider(model.ReasonConfig{BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Compose(context.Background(), composeRequestFixture())
	if err == nil {
		t.Fatal("Expected missing model to fail")
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"models": [{"name": "llama3.1:8b"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(model.ReasonConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}

func TestNewProvider_Dispatch(t *testing.T) {
	p, err := NewProvider(model.ReasonConfig{Provider: "ollama"})
	if err != nil {
		t.Fatalf("Expected ollama provider, got %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Expected ollama, got %s", p.Name())
	}

	p, err = NewProvider(model.ReasonConfig{Provider: ""})
	if err != nil || p != nil {
		t.Errorf("Expected nil provider for empty config, got %v %v", p, err)
	}

	if _, err := NewProvider(model.ReasonConfig{Provider: "watson"}); err == nil {
		t.Error("Expected unknown provider to fail")
	}
}
