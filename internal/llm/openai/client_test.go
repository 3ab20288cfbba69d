package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ChainBazaar/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestChooseToolSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "Crypto prices offer the best signal for the cost.",
						"tool_calls": []map[string]any{
							{
								"type": "function",
								"function": map[string]any{
									"name":      "get_crypto_prices",
									"arguments": `{"symbol":"BTC"}`,
								},
							},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	tools := []llm.ToolOption{
		{Name: "get_crypto_prices", Description: "Get current cryptocurrency prices", PriceUSD: decimal.RequireFromString("0.01")},
		{Name: "get_weather", Description: "Get current weather conditions", PriceUSD: decimal.RequireFromString("0.01")},
	}

	selection, err := client.ChooseTool(context.Background(), "", tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if selection.Tool != "get_crypto_prices" {
		t.Fatalf("unexpected tool: %q", selection.Tool)
	}
	if selection.Arguments["symbol"] != "BTC" {
		t.Fatalf("unexpected arguments: %+v", selection.Arguments)
	}
	if !strings.Contains(selection.Reasoning, "best signal") {
		t.Fatalf("unexpected reasoning: %q", selection.Reasoning)
	}

	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["tool_choice"] != "required" {
		t.Fatalf("tool_choice field missing in request: %+v", captured.Body["tool_choice"])
	}
	if defs, ok := captured.Body["tools"].([]any); !ok || len(defs) != 2 {
		t.Fatalf("expected 2 tool definitions, got %+v", captured.Body["tools"])
	}
}

func TestChooseToolNoSelection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "I would rather not."}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	tools := []llm.ToolOption{{Name: "get_weather", PriceUSD: decimal.RequireFromString("0.01")}}
	if _, err := client.ChooseTool(context.Background(), "", tools); err == nil {
		t.Fatalf("expected error when no tool call is returned")
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Hold BTC, momentum is positive."}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	recommendation, err := client.Analyze(context.Background(), map[string]any{"bitcoin": map[string]any{"price": 43250.5}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recommendation != "Hold BTC, momentum is positive." {
		t.Fatalf("unexpected recommendation: %q", recommendation)
	}
}

func TestAnalyzeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Analyze(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
