package vaultchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the VaultChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu       sync.RWMutex
	identity string
}

// Step is one chain-submission entry: an extension identifier and its opaque
// parameter blob.
type Step struct {
	ExtensionID string          `json:"extension_id"`
	Data        json.RawMessage `json:"data"`
}

// Run is the journal record returned for a chain submission.
type Run struct {
	ID        string   `json:"id"`
	Submitter string   `json:"submitter"`
	Results   []string `json:"results,omitempty"`
	Status    string   `json:"status"`
	ErrorCode string   `json:"error_code,omitempty"`
	LastError string   `json:"last_error,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// VaultState is the ledger read surface.
type VaultState struct {
	Name            string `json:"name"`
	TotalAssets     string `json:"total_assets"`
	TotalIdle       string `json:"total_idle"`
	SharePrice      string `json:"share_price"`
	MerkleRoot      string `json:"merkle_root"`
	Paused          bool   `json:"paused"`
	MaxAllowedDelta uint64 `json:"max_allowed_delta_bps"`
}

// Requests is the caller's outstanding request view.
type Requests struct {
	PendingDeposit   string `json:"pending_deposit"`
	ClaimableDeposit string `json:"claimable_deposit"`
	PendingRedeem    string `json:"pending_redeem"`
	ClaimableRedeem  string `json:"claimable_redeem"`
	MaxRedeem        string `json:"max_redeem"`
}

// BreakdownEntry declares one strategy's value inside a settlement.
type BreakdownEntry struct {
	Strategy string `json:"strategy"`
	Value    string `json:"value"`
}

// Settlement is the result of an applied settlement.
type Settlement struct {
	Total      string `json:"total"`
	MerkleRoot string `json:"merkle_root"`
}

// APIError represents server-side validation or internal errors.
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
		return fmt.Sprintf("vaultchain api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("vaultchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the VaultChain API. When httpClient is
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

// SetIdentity stores the caller identity sent with every request.
func (c *Client) SetIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Identity returns the stored caller identity.
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SubmitChain submits an ordered step list for atomic execution.
func (c *Client) SubmitChain(ctx context.Context, steps []Step) (Run, error) {
	var run Run
	payload := struct {
		Steps []Step `json:"steps"`
	}{Steps: steps}
	if err := c.post(ctx, "/api/v1/chains", payload, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetChain fetches one journalled run by identifier.
func (c *Client) GetChain(ctx context.Context, id string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/chains/"+url.PathEscape(id), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// State fetches the vault read surface.
func (c *Client) State(ctx context.Context) (VaultState, error) {
	var state VaultState
	if err := c.get(ctx, "/api/v1/vault", &state); err != nil {
		return VaultState{}, err
	}
	return state, nil
}

// MyRequests fetches the caller's pending and claimable amounts.
func (c *Client) MyRequests(ctx context.Context) (Requests, error) {
	var reqs Requests
	if err := c.get(ctx, "/api/v1/vault/requests", &reqs); err != nil {
		return Requests{}, err
	}
	return reqs, nil
}

// RequestDeposit escrows assets for the caller.
func (c *Client) RequestDeposit(ctx context.Context, assets string) error {
	payload := struct {
		Assets string `json:"assets"`
	}{Assets: assets}
	return c.post(ctx, "/api/v1/vault/deposit-requests", payload, nil)
}

// Deposit claims a fulfilled deposit request and returns the minted shares.
func (c *Client) Deposit(ctx context.Context, assets string) (string, error) {
	payload := struct {
		Assets string `json:"assets"`
	}{Assets: assets}
	var out struct {
		Shares string `json:"shares"`
	}
	if err := c.post(ctx, "/api/v1/vault/deposits", payload, &out); err != nil {
		return "", err
	}
	return out.Shares, nil
}

// RequestRedeem escrows shares for the caller.
func (c *Client) RequestRedeem(ctx context.Context, shares string) error {
	payload := struct {
		Shares string `json:"shares"`
	}{Shares: shares}
	return c.post(ctx, "/api/v1/vault/redeem-requests", payload, nil)
}

// Redeem claims fulfilled redeem shares and returns the paid assets.
func (c *Client) Redeem(ctx context.Context, shares string) (string, error) {
	payload := struct {
		Shares string `json:"shares"`
	}{Shares: shares}
	var out struct {
		Assets string `json:"assets"`
	}
	if err := c.post(ctx, "/api/v1/vault/redemptions", payload, &out); err != nil {
		return "", err
	}
	return out.Assets, nil
}

// Settle applies a settlement with its strategy breakdown.
func (c *Client) Settle(ctx context.Context, total string, breakdown []BreakdownEntry) (Settlement, error) {
	payload := struct {
		Total     string           `json:"total"`
		Breakdown []BreakdownEntry `json:"breakdown"`
	}{Total: total, Breakdown: breakdown}
	var out Settlement
	if err := c.post(ctx, "/api/v1/vault/settlements", payload, &out); err != nil {
		return Settlement{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if identity := c.Identity(); identity != "" {
		req.Header.Set("X-Identity", identity)
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
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
