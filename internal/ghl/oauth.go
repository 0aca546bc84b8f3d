package ghl

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relead/ghl-crm-proxy/internal/httpx"
)

// OAuthClient performs token grants against the platform's authorization
// server. It holds no mutable state; refreshed tokens are returned to the
// caller to apply.
type OAuthClient struct {
	httpClient   httpx.Doer
	authBaseURL  string
	clientID     string
	clientSecret string
}

// NewOAuthClient creates a client for the token endpoint at
// authBaseURL/oauth/token.
func NewOAuthClient(httpClient httpx.Doer, authBaseURL, clientID, clientSecret string) *OAuthClient {
	return &OAuthClient{
		httpClient:   httpClient,
		authBaseURL:  strings.TrimRight(authBaseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// oauthErrorBody is the error shape the authorization server returns on a
// rejected grant.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// RefreshAccessToken exchanges a refresh token for a new token pair. The
// call is made exactly once; transient failures are surfaced for the caller
// to handle. A rejected grant (invalid_grant, or an outright 401) is
// classified as KindRefreshTokenExpired because it means the refresh token
// has been rotated away or revoked and only interactive re-authorization can
// recover.
func (o *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if o.clientID == "" || o.clientSecret == "" {
		return nil, newError(KindConfiguration, nil, "client id and client secret are required for token refresh")
	}
	if refreshToken == "" {
		return nil, newError(KindConfiguration, nil, "no refresh token available")
	}

	form := url.Values{}
	form.Set("client_id", o.clientID)
	form.Set("client_secret", o.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return o.requestToken(ctx, form)
}

// ExchangeAuthorizationCode exchanges a one-time authorization code for a
// token pair. Used by the interactive (re-)authorization flow.
func (o *OAuthClient) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if o.clientID == "" || o.clientSecret == "" {
		return nil, newError(KindConfiguration, nil, "client id and client secret are required for code exchange")
	}
	if code == "" {
		return nil, newError(KindConfiguration, nil, "authorization code is empty")
	}

	form := url.Values{}
	form.Set("client_id", o.clientID)
	form.Set("client_secret", o.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	return o.requestToken(ctx, form)
}

func (o *OAuthClient) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.authBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError(KindTransient, err, "could not create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindTransient, err, "token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransient, err, "could not read token response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyTokenError(resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, newError(KindTransient, err, "could not parse token response")
	}

	// A partial response is as useless as an error response.
	if token.AccessToken == "" || token.RefreshToken == "" || token.ExpiresIn <= 0 {
		return nil, newError(KindTransient, nil, "token response incomplete: %s", string(body))
	}

	return &token, nil
}

func classifyTokenError(status int, body []byte) *Error {
	var oe oauthErrorBody
	// Body may not be JSON at all; classification falls through to status.
	_ = json.Unmarshal(body, &oe)

	if oe.Error == "invalid_grant" || status == http.StatusUnauthorized {
		e := newError(KindRefreshTokenExpired, nil,
			"authorization server rejected the grant, re-authorization required: %s", summarize(oe, body))
		e.StatusCode = status
		return e
	}

	e := newError(KindTransient, nil, "token request failed: %s", summarize(oe, body))
	e.StatusCode = status
	return e
}

func summarize(oe oauthErrorBody, body []byte) string {
	switch {
	case oe.ErrorDescription != "":
		return oe.ErrorDescription
	case oe.Error != "":
		return oe.Error
	case oe.Message != "":
		return oe.Message
	default:
		return strings.TrimSpace(string(body))
	}
}
