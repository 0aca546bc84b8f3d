package ghl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/relead/ghl-crm-proxy/internal/httpx"
	"github.com/relead/ghl-crm-proxy/internal/logger"
)

// Default endpoints for the hosted platform.
const (
	DefaultAPIBaseURL  = "https://services.leadconnectorhq.com"
	DefaultAuthBaseURL = "https://services.leadconnectorhq.com"
)

// RotationListener is notified after a successful token refresh, once per
// refresh, after the retried business call has settled. Implementations own
// their durability concerns; a returned error is logged and never affects
// the business call.
type RotationListener interface {
	CredentialsRotated(ctx context.Context, accessToken, refreshToken string) error
}

// Options configures a Client. AccessToken and LocationID are required.
// ClientID, ClientSecret and RefreshToken together enable the automatic
// refresh path; leave any of them empty and a 401 is surfaced as-is.
type Options struct {
	AccessToken  string
	RefreshToken string
	LocationID   string
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	AuthBaseURL  string
	HTTPClient   httpx.Doer
	Listener     RotationListener
}

// Client makes authenticated calls to the CRM platform's business API for a
// single location. The credential set is owned by the Client and swapped
// atomically on refresh; concurrent callers that hit an expired token share
// one in-flight refresh instead of racing each other to rotate the refresh
// token.
type Client struct {
	httpClient httpx.Doer
	oauth      *OAuthClient
	apiBaseURL string
	listener   RotationListener

	mu    sync.Mutex
	creds CredentialSet

	refreshGroup singleflight.Group
	rotations    atomic.Int64
}

// refreshResult is what concurrent callers receive from the shared refresh.
// The notify once guards the listener so it fires exactly once per refresh,
// from whichever caller finishes its retry first.
type refreshResult struct {
	accessToken  string
	refreshToken string
	notify       *sync.Once
}

// NewClient validates the options and builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, newError(KindConfiguration, nil, "access token is required")
	}
	if opts.LocationID == "" {
		return nil, newError(KindConfiguration, nil, "location id is required")
	}

	apiBase := opts.APIBaseURL
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	authBase := opts.AuthBaseURL
	if authBase == "" {
		authBase = DefaultAuthBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = httpx.NewClient(30 * time.Second)
	}

	c := &Client{
		httpClient: httpClient,
		apiBaseURL: strings.TrimRight(apiBase, "/"),
		listener:   opts.Listener,
		creds: CredentialSet{
			AccessToken:  opts.AccessToken,
			RefreshToken: opts.RefreshToken,
			LocationID:   opts.LocationID,
		},
	}
	if opts.ClientID != "" && opts.ClientSecret != "" {
		c.oauth = NewOAuthClient(httpClient, authBase, opts.ClientID, opts.ClientSecret)
	}
	return c, nil
}

// Credentials returns a copy of the current credential set.
func (c *Client) Credentials() CredentialSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// SetCredentials installs a new token pair, e.g. after an interactive
// re-authorization.
func (c *Client) SetCredentials(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.AccessToken = accessToken
	if refreshToken != "" {
		c.creds.RefreshToken = refreshToken
	}
}

// RotationCount reports how many automatic refreshes this client has
// performed. Exposed for the admin status endpoint.
func (c *Client) RotationCount() int64 {
	return c.rotations.Load()
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.AccessToken
}

func (c *Client) canRefresh() bool {
	if c.oauth == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.RefreshToken != ""
}

// apiErrorBody is the error envelope the business API returns. Some
// endpoints report an invalid token via a 401 status, others via a
// statusCode field in the body.
type apiErrorBody struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
	ErrorField string `json:"error,omitempty"`
}

func isUnauthorized(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	if eb.StatusCode == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(eb.Message, "Invalid JWT")
}

// do issues one business call with the current access token. On an
// unauthorized response it performs at most one refresh-and-retry cycle; a
// second 401 is surfaced without another refresh so a persistently broken
// call cannot loop.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return newError(KindAPI, err, "could not marshal request body")
		}
	}

	u := c.apiBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	status, respBody, err := c.send(ctx, method, u, bodyBytes, c.accessToken())
	if err != nil {
		return newError(KindTransient, err, "%s %s failed", method, path)
	}

	if isUnauthorized(status, respBody) {
		if !c.canRefresh() {
			e := newError(KindAuthFailed, nil, "unauthorized and no refresh capability configured: %s", apiMessage(respBody))
			e.StatusCode = status
			return e
		}

		res, err := c.refresh(ctx)
		if err != nil {
			return err
		}

		status, respBody, err = c.send(ctx, method, u, bodyBytes, res.accessToken)
		c.notifyRotated(res)
		if err != nil {
			return newError(KindTransient, err, "%s %s failed after token refresh", method, path)
		}
		if isUnauthorized(status, respBody) {
			e := newError(KindAuthFailed, nil, "still unauthorized after token refresh: %s", apiMessage(respBody))
			e.StatusCode = status
			return e
		}
	}

	if status < 200 || status > 299 {
		kind := KindAPI
		if status >= 500 {
			kind = KindTransient
		}
		e := newError(kind, nil, "%s %s returned an error: %s", method, path, apiMessage(respBody))
		e.StatusCode = status
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return newError(KindAPI, err, "could not parse %s %s response", method, path)
	}
	return nil
}

// send performs a single HTTP exchange. Requests are rebuilt per attempt so
// the body reader is fresh on retry.
func (c *Client) send(ctx context.Context, method, url string, body []byte, accessToken string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// refresh collapses concurrent refresh attempts into one call to the
// authorization server. The credential swap happens inside the shared
// execution, so every waiter retries with the same new pair.
func (c *Client) refresh(ctx context.Context) (*refreshResult, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		c.mu.Lock()
		refreshToken := c.creds.RefreshToken
		c.mu.Unlock()

		token, err := c.oauth.RefreshAccessToken(ctx, refreshToken)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.creds.AccessToken = token.AccessToken
		c.creds.RefreshToken = token.RefreshToken
		c.creds.ExpiresIn = token.ExpiresIn
		c.mu.Unlock()
		c.rotations.Add(1)

		logger.Get().Info().Int("expires_in", token.ExpiresIn).Msg("Refreshed access token")

		return &refreshResult{
			accessToken:  token.AccessToken,
			refreshToken: token.RefreshToken,
			notify:       &sync.Once{},
		}, nil
	})
	if err != nil {
		if IsRefreshTokenExpired(err) {
			logger.Get().Error().Err(err).Msg("Refresh token rejected, interactive re-authorization required")
			return nil, err
		}
		return nil, newError(KindTransient, err, "token refresh failed")
	}
	if shared {
		logger.Get().Debug().Msg("Joined in-flight token refresh")
	}
	return v.(*refreshResult), nil
}

// notifyRotated fires the rotation listener exactly once per refresh. It is
// called after the retried business call settles and runs detached so the
// durability path never delays or fails the caller.
func (c *Client) notifyRotated(res *refreshResult) {
	if c.listener == nil {
		return
	}
	res.notify.Do(func() {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Get().Error().Interface("panic", r).Msg("Rotation listener panicked")
				}
			}()
			if err := c.listener.CredentialsRotated(context.Background(), res.accessToken, res.refreshToken); err != nil {
				logger.Get().Error().Err(err).Msg("Failed to persist rotated credentials")
			}
		}()
	})
}

func apiMessage(body []byte) string {
	var eb apiErrorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Message != "":
			return eb.Message
		case eb.ErrorField != "":
			return eb.ErrorField
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

// GetConversations searches conversations for the configured location.
func (c *Client) GetConversations(ctx context.Context, q ConversationQuery) (*ConversationList, error) {
	query := url.Values{}
	query.Set("locationId", c.locationID())
	if q.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Query != "" {
		query.Set("query", q.Query)
	}
	if q.Status != "" {
		query.Set("status", q.Status)
	}

	var result ConversationList
	if err := c.do(ctx, http.MethodGet, "/conversations/search", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetMessages fetches a page of messages for one conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int) (*MessageList, error) {
	if conversationID == "" {
		return nil, newError(KindConfiguration, nil, "conversation id is required")
	}
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}

	var result MessageList
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendMessage sends an outbound message to a contact. The type defaults to
// SMS.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	if req.ContactID == "" {
		return nil, newError(KindConfiguration, nil, "contact id is required")
	}
	if req.Message == "" {
		return nil, newError(KindConfiguration, nil, "message body is empty")
	}
	if req.Type == "" {
		req.Type = "SMS"
	}

	var result SendMessageResult
	if err := c.do(ctx, http.MethodPost, "/conversations/messages", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type contactEnvelope struct {
	Contact Contact `json:"contact"`
}

// GetContact fetches a single contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	if contactID == "" {
		return nil, newError(KindConfiguration, nil, "contact id is required")
	}
	var result contactEnvelope
	if err := c.do(ctx, http.MethodGet, "/contacts/"+contactID, nil, nil, &result); err != nil {
		return nil, err
	}
	return &result.Contact, nil
}

// SearchContacts finds contacts in the configured location matching the
// query string.
func (c *Client) SearchContacts(ctx context.Context, queryStr string, limit int) (*ContactList, error) {
	query := url.Values{}
	query.Set("locationId", c.locationID())
	if queryStr != "" {
		query.Set("query", queryStr)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}

	var result ContactList
	if err := c.do(ctx, http.MethodGet, "/contacts/", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateContact creates a contact in the configured location.
func (c *Client) CreateContact(ctx context.Context, req CreateContactRequest) (*Contact, error) {
	payload := struct {
		CreateContactRequest
		LocationID string `json:"locationId"`
	}{req, c.locationID()}

	var result contactEnvelope
	if err := c.do(ctx, http.MethodPost, "/contacts/", nil, payload, &result); err != nil {
		return nil, err
	}
	return &result.Contact, nil
}

// StarConversation toggles the starred flag on a conversation and returns
// the updated conversation.
func (c *Client) StarConversation(ctx context.Context, conversationID string, starred bool) (*Conversation, error) {
	if conversationID == "" {
		return nil, newError(KindConfiguration, nil, "conversation id is required")
	}
	payload := struct {
		LocationID string `json:"locationId"`
		Starred    bool   `json:"starred"`
	}{c.locationID(), starred}

	var result struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPut, "/conversations/"+conversationID, nil, payload, &result); err != nil {
		return nil, err
	}
	return &result.Conversation, nil
}

// ExchangeAuthorizationCode runs the interactive grant's code exchange and
// installs the resulting token pair on this client.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if c.oauth == nil {
		return nil, newError(KindConfiguration, nil, "client id and client secret are required for authorization")
	}
	token, err := c.oauth.ExchangeAuthorizationCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	c.SetCredentials(token.AccessToken, token.RefreshToken)
	return token, nil
}

func (c *Client) locationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.LocationID
}
