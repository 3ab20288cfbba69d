package bazaar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainBazaar REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Registration represents the payload required to register an agent.
type Registration struct {
	WalletAddress string `json:"walletAddress"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
}

// Identity represents an issued agent identity.
type Identity struct {
	AgentID       string `json:"agentId"`
	APIKey        string `json:"apiKey"`
	WalletAddress string `json:"walletAddress"`
}

// PaymentTerms describe where payments for tool calls must be sent.
type PaymentTerms struct {
	Token     string `json:"token"`
	Network   string `json:"network"`
	Recipient string `json:"recipient"`
}

// Tool describes a purchasable tool in the marketplace catalog.
type Tool struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       string         `json:"price"`
	PriceRaw    string         `json:"priceRaw"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Source      string         `json:"source"`
	Category    string         `json:"category,omitempty"`
}

// Catalog is the tool listing together with the marketplace payment terms.
type Catalog struct {
	Tools   []Tool       `json:"tools"`
	Payment PaymentTerms `json:"payment"`
}

// PaymentDemand is the challenge returned when a call lacks a valid payment.
type PaymentDemand struct {
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Network   string `json:"network"`
}

// PaymentReceipt echoes the accepted payment on a successful execution.
type PaymentReceipt struct {
	TxHash string `json:"txHash"`
	Amount string `json:"amount"`
}

// ExecutionResult is the outcome of a paid tool call.
type ExecutionResult struct {
	Success        bool            `json:"success"`
	Tool           string          `json:"tool"`
	ResponseTimeMs int64           `json:"responseTime"`
	Payment        PaymentReceipt  `json:"payment"`
	Data           json.RawMessage `json:"data"`
}

// PaymentRequiredError is returned when the server answers with a 402
// challenge. Payment carries the terms to satisfy before retrying.
type PaymentRequiredError struct {
	Message      string        `json:"error"`
	Code         string        `json:"code,omitempty"`
	Payment      PaymentDemand `json:"payment"`
	Instructions string        `json:"instructions,omitempty"`
}

func (e *PaymentRequiredError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("bazaar payment required (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bazaar payment required: %s", e.Message)
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("bazaar api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("bazaar api error (%d): %s", e.StatusCode, e.Message)
}

// PayFunc settles a payment demand on chain and returns the transaction hash.
type PayFunc func(ctx context.Context, demand PaymentDemand) (string, error)

// NewClient instantiates a client for the ChainBazaar API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Register creates an agent identity for the wallet and stores its API key
// for subsequent calls. Re-registering an existing wallet returns the
// identity that was minted the first time.
func (c *Client) Register(ctx context.Context, registration Registration) (Identity, error) {
	var identity Identity
	err := c.post(ctx, "/agents/register", registration, &identity, false)
	if err != nil {
		var apiErr *APIError
		// The conflict response still carries the existing identity.
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || identity.APIKey == "" {
			return Identity{}, err
		}
	}
	c.mu.Lock()
	c.apiKey = identity.APIKey
	c.mu.Unlock()
	return identity, nil
}

// ListTools fetches the catalog of purchasable tools.
func (c *Client) ListTools(ctx context.Context) (Catalog, error) {
	var catalog Catalog
	if err := c.get(ctx, "/tools", &catalog, true); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// GetTool fetches a single tool descriptor by identifier.
func (c *Client) GetTool(ctx context.Context, toolID string) (Tool, error) {
	var tool Tool
	if err := c.get(ctx, "/tools/"+url.PathEscape(toolID), &tool, true); err != nil {
		return Tool{}, err
	}
	return tool, nil
}

// Execute runs a tool with an already settled payment. txHash must reference
// a confirmed ERC-20 transfer matching the tool's price. Without it the call
// fails with *PaymentRequiredError carrying the payment terms.
func (c *Client) Execute(ctx context.Context, toolID string, params map[string]any, txHash string) (ExecutionResult, error) {
	payload := map[string]any{}
	if len(params) > 0 {
		payload["params"] = params
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := "/tools/" + url.PathEscape(toolID) + "/execute"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), true)
	if err != nil {
		return ExecutionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if txHash != "" {
		req.Header.Set("X-Payment-Tx", txHash)
	}

	var result ExecutionResult
	if err := c.do(req, &result); err != nil {
		return ExecutionResult{}, err
	}
	return result, nil
}

// Purchase runs a tool end to end: it lets the server issue its payment
// challenge, settles it through pay, and retries with the transaction hash.
func (c *Client) Purchase(ctx context.Context, toolID string, params map[string]any, pay PayFunc) (ExecutionResult, error) {
	if pay == nil {
		return ExecutionResult{}, errors.New("bazaar: pay function is required")
	}

	result, err := c.Execute(ctx, toolID, params, "")
	if err == nil {
		return result, nil
	}
	var challenge *PaymentRequiredError
	if !errors.As(err, &challenge) {
		return ExecutionResult{}, err
	}

	txHash, err := pay(ctx, challenge.Payment)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("settle payment: %w", err)
	}
	return c.Execute(ctx, toolID, params, txHash)
}

// APIKey returns the currently stored agent API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SetAPIKey overrides the stored agent API key.
func (c *Client) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		apiKey := c.APIKey()
		if apiKey == "" {
			return nil, errors.New("bazaar: api key is not set")
		}
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}

		if resp.StatusCode == http.StatusPaymentRequired {
			var challenge PaymentRequiredError
			if err := json.Unmarshal(data, &challenge); err == nil && challenge.Message != "" {
				return &challenge
			}
		}

		apiErr := APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
			// Conflict responses carry the existing identity next to the error.
			if out != nil && resp.StatusCode == http.StatusConflict {
				_ = json.Unmarshal(data, out)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
