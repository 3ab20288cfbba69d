package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ChainBazaar/sdk/go/bazaar"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/agents/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(bazaar.Identity{
			AgentID:       "agent-demo",
			APIKey:        "bzr_demo_key",
			WalletAddress: "0x2222222222222222222222222222222222222222",
		})
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bazaar.Catalog{
			Tools: []bazaar.Tool{{
				ID:          "market",
				Name:        "get_market_data",
				Description: "Real-time stock market data",
				Price:       "$0.01",
				PriceRaw:    "0.01",
				Source:      "platform",
			}},
			Payment: bazaar.PaymentTerms{
				Token:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Network:   "base",
				Recipient: "0x1111111111111111111111111111111111111111",
			},
		})
	})
	mux.HandleFunc("/tools/market/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Payment-Tx") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(bazaar.PaymentRequiredError{
				Message: "Payment Required",
				Payment: bazaar.PaymentDemand{
					Amount:    "0.01",
					Token:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
					Recipient: "0x1111111111111111111111111111111111111111",
					Network:   "base",
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(bazaar.ExecutionResult{
			Success: true,
			Tool:    "market",
			Payment: bazaar.PaymentReceipt{TxHash: r.Header.Get("X-Payment-Tx"), Amount: "0.01"},
			Data:    json.RawMessage(`{"sp500":{"price":4783.35,"change":40.85}}`),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := bazaar.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	identity, err := client.Register(ctx, bazaar.Registration{
		WalletAddress: "0x2222222222222222222222222222222222222222",
		Name:          "SDK Demo Agent",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered agent %s\n", identity.AgentID)

	catalog, err := client.ListTools(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("catalog has %d tools, payments settle on %s\n", len(catalog.Tools), catalog.Payment.Network)

	result, err := client.Purchase(ctx, "market", nil,
		func(_ context.Context, demand bazaar.PaymentDemand) (string, error) {
			fmt.Printf("paying %s USDC to %s\n", demand.Amount, demand.Recipient)
			return "0xdemo", nil
		})
	if err != nil {
		panic(err)
	}
	fmt.Printf("purchased %s for %s, data=%s\n", result.Tool, result.Payment.Amount, result.Data)
}
