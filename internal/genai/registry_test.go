package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryResolvesDefaultAndNamedProviders(t *testing.T) {
	t.Parallel()

	registry := BuildRegistry(RegistryOptions{
		DefaultProvider: "local",
		GeminiAPIKey:    "key",
	})

	provider, err := registry.Provider("")
	if err != nil {
		t.Fatalf("resolve default provider: %v", err)
	}
	if provider.Name() != "local" {
		t.Fatalf("expected default provider local, got %q", provider.Name())
	}

	provider, err = registry.Provider("GEMINI")
	if err != nil {
		t.Fatalf("resolve gemini provider: %v", err)
	}
	if provider.Name() != "gemini" {
		t.Fatalf("expected gemini provider, got %q", provider.Name())
	}

	if _, err := registry.Provider("missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestBuildRegistryFallsBackToKnownDefault(t *testing.T) {
	t.Parallel()

	registry := BuildRegistry(RegistryOptions{DefaultProvider: "openrouter"})
	if registry.DefaultProvider() != DefaultProviderName {
		t.Fatalf("expected fallback default %q, got %q", DefaultProviderName, registry.DefaultProvider())
	}
}

func TestGeminiProviderGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		var req geminiGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("expected JSON response mime type, got %q", req.GenerationConfig.ResponseMimeType)
		}
		if req.GenerationConfig.Temperature != 0 {
			t.Errorf("expected temperature 0, got %g", req.GenerationConfig.Temperature)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": `{"ok":true}`}}}},
			},
		})
	}))
	defer server.Close()

	provider := NewGeminiProviderWithEndpoint(server.URL, "secret", "")
	resp, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "structure this"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.ProviderName != "gemini" || resp.ModelName != DefaultGeminiModel {
		t.Fatalf("unexpected metadata %+v", resp)
	}
}

func TestGeminiProviderRequiresAPIKey(t *testing.T) {
	t.Parallel()

	provider := NewGeminiProvider("", "")
	if _, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error when api key is missing")
	}
}

func TestLocalProviderGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req localChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %+v", req.ResponseFormat)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"ok":true}`}},
			},
		})
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model")
	resp, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "structure this"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestLocalProviderPropagatesEndpointErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model offline"},
		})
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "test-model")
	_, err := provider.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("expected endpoint error message, got %v", err)
	}
}

func TestChatCompletionsURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8845/v1", "http://127.0.0.1:8845/v1/chat/completions"},
		{"http://127.0.0.1:8845", "http://127.0.0.1:8845/v1/chat/completions"},
		{"http://127.0.0.1:8845/v1/chat/completions", "http://127.0.0.1:8845/v1/chat/completions"},
	}
	for _, tc := range cases {
		if got := chatCompletionsURL(normalizeEndpoint(tc.in)); got != tc.want {
			t.Fatalf("chatCompletionsURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
