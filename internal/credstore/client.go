// Package credstore talks to the external configuration service that keeps
// rotated OAuth tokens across deploys. The service is a simple key/value
// management API: records are listed per project, created with a key, value
// and target scopes, and updated by their internal id.
package credstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relead/ghl-crm-proxy/internal/httpx"
)

// Record is one stored key/value entry.
type Record struct {
	ID      string   `json:"id"`
	Key     string   `json:"key"`
	Value   string   `json:"value"`
	Type    string   `json:"type,omitempty"`
	Targets []string `json:"target,omitempty"`
}

// Client is a minimal client for the store's management API.
type Client struct {
	httpClient httpx.Doer
	baseURL    string
	token      string
	projectID  string
}

// NewClient builds a store client. token authenticates against the
// management API, projectID scopes which project's records are touched.
func NewClient(httpClient httpx.Doer, baseURL, token, projectID string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		projectID:  projectID,
	}
}

func (c *Client) envURL(suffix string) string {
	return fmt.Sprintf("%s/v1/projects/%s/env%s", c.baseURL, c.projectID, suffix)
}

func (c *Client) request(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read store response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("store returned status %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse store response: %w", err)
	}
	return nil
}

// FindByKey looks up a record by its key. Returns nil without error when no
// record with that key exists.
func (c *Client) FindByKey(ctx context.Context, key string) (*Record, error) {
	var listing struct {
		Envs []Record `json:"envs"`
	}
	if err := c.request(ctx, http.MethodGet, c.envURL(""), nil, &listing); err != nil {
		return nil, err
	}
	for i := range listing.Envs {
		if listing.Envs[i].Key == key {
			return &listing.Envs[i], nil
		}
	}
	return nil, nil
}

// Create adds a new record scoped to the given targets.
func (c *Client) Create(ctx context.Context, key, value string, targets []string) error {
	body := Record{
		Key:     key,
		Value:   value,
		Type:    "encrypted",
		Targets: targets,
	}
	return c.request(ctx, http.MethodPost, c.envURL(""), body, nil)
}

// Update replaces the value of an existing record in place, preserving its
// store-side identity.
func (c *Client) Update(ctx context.Context, id, value string, targets []string) error {
	body := struct {
		Value   string   `json:"value"`
		Targets []string `json:"target,omitempty"`
	}{value, targets}
	return c.request(ctx, http.MethodPatch, c.envURL("/"+id), body, nil)
}

// Upsert writes value under key, updating in place when the key already
// exists so repeated writes never create duplicates.
func (c *Client) Upsert(ctx context.Context, key, value string, targets []string) error {
	existing, err := c.FindByKey(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return c.Update(ctx, existing.ID, value, targets)
	}
	return c.Create(ctx, key, value, targets)
}
