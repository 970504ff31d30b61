// Package refs is the academic-reference integration. The remote API is a
// black box here: this client only handles credentials (through the vault)
// and memoizes responses (through the TTL cache) to avoid redundant network
// calls.
package refs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/glimpse-app/glimpse/internal/cache"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/vault"
)

// Service is the vault service name for the reference-manager credential.
const Service = "refs"

// Paper is one reference returned by the remote source.
type Paper struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year"`
	DOI     string   `json:"doi,omitempty"`
}

// Client fetches papers with cached, credentialed requests.
type Client struct {
	baseURL string
	ownerID string
	http    *http.Client
	vault   *vault.Vault
	cache   *cache.Cache[[]Paper]
	ttl     time.Duration
	logger  logging.Logger
}

func NewClient(baseURL, ownerID string, v *vault.Vault, c *cache.Cache[[]Paper], ttl time.Duration, logger logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		ownerID: ownerID,
		http:    &http.Client{Timeout: 15 * time.Second},
		vault:   v,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
	}
}

// SetCredentials stores the API credential and invalidates all cached
// responses, since they may have been fetched under another account.
func (c *Client) SetCredentials(ctx context.Context, credentials map[string]any) error {
	if err := c.vault.Store(ctx, Service, c.ownerID, credentials); err != nil {
		return err
	}
	c.cache.DeletePattern("refs:*")
	return nil
}

// ClearCredentials removes the stored credential and drops cached responses.
func (c *Client) ClearCredentials(ctx context.Context) error {
	if err := c.vault.Remove(ctx, Service, c.ownerID); err != nil {
		return err
	}
	c.cache.DeletePattern("refs:*")
	return nil
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	creds, err := c.vault.Get(ctx, Service, c.ownerID)
	if err != nil {
		return "", err
	}
	key, _ := creds["api_key"].(string)
	if key == "" {
		return "", fmt.Errorf("no api_key in stored credentials")
	}
	return key, nil
}

// Search returns papers matching query, served from cache when possible.
func (c *Client) Search(ctx context.Context, query string) ([]Paper, error) {
	cacheKey := "refs:search:" + query
	return c.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) ([]Paper, error) {
		return c.fetch(ctx, query)
	}, c.ttl)
}

func (c *Client) fetch(ctx context.Context, query string) ([]Paper, error) {
	key, err := c.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/documents?query=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refs request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refs request failed: status %d", resp.StatusCode)
	}

	var papers []Paper
	if err := json.NewDecoder(resp.Body).Decode(&papers); err != nil {
		return nil, fmt.Errorf("refs decode error: %w", err)
	}
	return papers, nil
}
