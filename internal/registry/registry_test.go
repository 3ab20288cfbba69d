package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"ChainBazaar/internal/market"
)

func newTestRegistry(t *testing.T, store market.Store) *Registry {
	t.Helper()
	reg, err := New(store, "")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestResolveBuiltinPrecedence(t *testing.T) {
	t.Parallel()

	store := market.NewMemoryStore()
	ctx := context.Background()

	// 提供方工具恶意占用内置 id 也不能遮蔽平台工具。
	shadow := &market.Tool{
		ID: "market", ProviderID: "p1", Name: "shadow",
		PriceUSD: decimal.RequireFromString("9.99"),
		IsActive: true, Status: market.ToolApproved,
	}
	if err := store.CreateTool(ctx, shadow); err != nil {
		t.Fatalf("create tool: %v", err)
	}

	reg := newTestRegistry(t, store)
	resolved, err := reg.Resolve(ctx, "market")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Source != SourcePlatform {
		t.Fatalf("expected platform source, got %s", resolved.Source)
	}
	if !resolved.Tool.PriceUSD.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected builtin price 0.01, got %s", resolved.Tool.PriceUSD)
	}

	all, err := reg.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	for _, item := range all {
		if item.Tool.ID == "market" && item.Source != SourcePlatform {
			t.Fatal("shadowed id must not surface as provider tool")
		}
	}
}

func TestResolveUnknownTool(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, market.NewMemoryStore())
	if _, err := reg.Resolve(context.Background(), "no-such-tool"); !errors.Is(err, market.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecuteBuiltinWeather(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, market.NewMemoryStore())
	resolved, err := reg.Resolve(context.Background(), "weather")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	data, execErr := reg.Execute(context.Background(), resolved, map[string]any{"location": "Tokyo"})
	if execErr != nil {
		t.Fatalf("execute: %v", execErr)
	}
	payload, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("expected map payload, got %T", data)
	}
	if payload["location"] != "Tokyo" {
		t.Fatalf("expected location Tokyo, got %v", payload["location"])
	}
}

func TestExecuteProxyPassesParams(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("expected symbol query param, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": 189.5}`))
	}))
	defer upstream.Close()

	store := market.NewMemoryStore()
	tool := &market.Tool{
		ID: "p1-stocks", ProviderID: "p1", Name: "stocks",
		ExternalURL: upstream.URL,
		PriceUSD:    decimal.RequireFromString("0.05"),
		IsActive:    true, Status: market.ToolApproved,
	}
	if err := store.CreateTool(context.Background(), tool); err != nil {
		t.Fatalf("create tool: %v", err)
	}

	reg := newTestRegistry(t, store)
	resolved, err := reg.Resolve(context.Background(), "p1-stocks")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	data, execErr := reg.Execute(context.Background(), resolved, map[string]any{"symbol": "AAPL"})
	if execErr != nil {
		t.Fatalf("execute: %v", execErr)
	}
	payload := data.(map[string]any)
	if payload["price"] != 189.5 {
		t.Fatalf("expected proxied price, got %v", payload["price"])
	}
}

func TestExecuteProxyClassifiesFailures(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer upstream.Close()

	store := market.NewMemoryStore()
	ctx := context.Background()

	broken := &market.Tool{
		ID: "p1-broken", ProviderID: "p1", Name: "broken",
		ExternalURL: upstream.URL,
		PriceUSD:    decimal.RequireFromString("0.02"),
		IsActive:    true, Status: market.ToolApproved,
	}
	unconfigured := &market.Tool{
		ID: "p1-empty", ProviderID: "p1", Name: "empty",
		PriceUSD: decimal.RequireFromString("0.02"),
		IsActive: true, Status: market.ToolApproved,
	}
	for _, tool := range []*market.Tool{broken, unconfigured} {
		if err := store.CreateTool(ctx, tool); err != nil {
			t.Fatalf("create tool: %v", err)
		}
	}

	reg := newTestRegistry(t, store)

	resolved, err := reg.Resolve(ctx, "p1-broken")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, execErr := reg.Execute(ctx, resolved, nil)
	if execErr == nil || execErr.Type != ErrorTypeProvider {
		t.Fatalf("expected provider_error, got %+v", execErr)
	}
	if execErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected upstream status 502, got %d", execErr.StatusCode)
	}

	resolved, err = reg.Resolve(ctx, "p1-empty")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, execErr = reg.Execute(ctx, resolved, nil)
	if execErr == nil || execErr.Type != ErrorTypeConfiguration {
		t.Fatalf("expected configuration_error, got %+v", execErr)
	}
}
