// Package ledgerclient is a thin HTTP client for the ledger service.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/prooflane/prooflane/pkg/gate"
	"github.com/prooflane/prooflane/pkg/proof"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Bearer:     bearer,
	}
}

type SubmitResponse struct {
	RequestID   string `json:"request_id"`
	ProofID     string `json:"proof_id"`
	ChainID     string `json:"chain_id"`
	ContentHash string `json:"content_hash"`
	ChainHash   string `json:"chain_hash"`
}

type ChainResponse struct {
	RequestID string          `json:"request_id"`
	ChainID   string          `json:"chain_id"`
	Proofs    []*proof.Record `json:"proofs"`
}

type ValidateResponse struct {
	RequestID string                 `json:"request_id"`
	ChainID   string                 `json:"chain_id"`
	Result    proof.ValidationResult `json:"result"`
}

type AuthorizeRequest struct {
	Authorization map[string]any `json:"authorization"`
	Verdict       string         `json:"verdict,omitempty"`
	Caller        string         `json:"caller,omitempty"`
	ChainID       string         `json:"chain_id,omitempty"`
	Execute       bool           `json:"execute,omitempty"`
}

type AuthorizeResponse struct {
	RequestID string      `json:"request_id"`
	Result    gate.Result `json:"result"`
}

// SubmitProof appends a proof to a chain. A non-empty nonce is sent in
// the x-event-nonce header for replay protection.
func (c *Client) SubmitProof(ctx context.Context, chainID string, rec *proof.Record, nonce string) (*SubmitResponse, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/ledger/chains/%s/proofs", c.BaseURL, url.PathEscape(chainID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if nonce != "" {
		req.Header.Set("x-event-nonce", nonce)
	}
	return doJSON[SubmitResponse](c, req)
}

// Chain fetches a chain's records in sequence order.
func (c *Client) Chain(ctx context.Context, chainID string) (*ChainResponse, error) {
	u := fmt.Sprintf("%s/ledger/chains/%s", c.BaseURL, url.PathEscape(chainID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[ChainResponse](c, req)
}

// ValidateChain runs server-side full-chain validation.
func (c *Client) ValidateChain(ctx context.Context, chainID string) (*ValidateResponse, error) {
	u := fmt.Sprintf("%s/ledger/chains/%s/validate", c.BaseURL, url.PathEscape(chainID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[ValidateResponse](c, req)
}

// AuthorizeSettlement asks the gate whether a settlement may proceed.
// A blocked settlement comes back as a response, not an error; only
// transport and server failures are errors.
func (c *Client) AuthorizeSettlement(ctx context.Context, settlementID string, in AuthorizeRequest) (*AuthorizeResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/ledger/settlements/%s/authorize", c.BaseURL, url.PathEscape(settlementID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := doJSONStatus[AuthorizeResponse](c, req, http.StatusForbidden)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	return doJSONStatus[T](c, req)
}

// doJSONStatus decodes a JSON response. Statuses >= 300 are errors
// unless listed in allowed (the gate reports blocks with 403 plus a
// decodable body).
func doJSONStatus[T any](c *Client, req *http.Request, allowed ...int) (*T, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && !statusAllowed(resp.StatusCode, allowed) {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("http %d: %v", resp.StatusCode, errBody)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func statusAllowed(status int, allowed []int) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
