package ghl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// rotationRecorder captures listener invocations. The client notifies on a
// detached goroutine, so assertions wait on the channel.
type rotationRecorder struct {
	mu    sync.Mutex
	calls [][2]string
	ch    chan [2]string
	err   error
}

func newRotationRecorder() *rotationRecorder {
	return &rotationRecorder{ch: make(chan [2]string, 16)}
}

func (r *rotationRecorder) CredentialsRotated(_ context.Context, accessToken, refreshToken string) error {
	r.mu.Lock()
	r.calls = append(r.calls, [2]string{accessToken, refreshToken})
	r.mu.Unlock()
	r.ch <- [2]string{accessToken, refreshToken}
	return r.err
}

func (r *rotationRecorder) wait(t *testing.T) [2]string {
	t.Helper()
	select {
	case pair := <-r.ch:
		return pair
	case <-time.After(2 * time.Second):
		t.Fatal("rotation listener was not invoked")
		return [2]string{}
	}
}

func (r *rotationRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// newAuthServer returns a mocked authorization server that issues the given
// pair and counts refresh calls.
func newAuthServer(t *testing.T, accessToken, refreshToken string, refreshes *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"Bearer","expires_in":86400}`, accessToken, refreshToken)
	}))
}

func newTestClient(t *testing.T, apiURL, authURL string, listener RotationListener) *Client {
	t.Helper()
	client, err := NewClient(Options{
		AccessToken:  "at_expired",
		RefreshToken: "rt_123",
		LocationID:   "loc_1",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBaseURL:   apiURL,
		AuthBaseURL:  authURL,
		HTTPClient:   testHTTPClient(),
		Listener:     listener,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{LocationID: "loc_1"})
	require.Equal(t, KindConfiguration, KindOf(err))

	_, err = NewClient(Options{AccessToken: "at"})
	require.Equal(t, KindConfiguration, KindOf(err))
}

func TestBusinessCallSuccessSkipsRefresh(t *testing.T) {
	var refreshes atomic.Int64
	authServer := newAuthServer(t, "at_999", "rt_next", &refreshes)
	defer authServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer at_expired", r.Header.Get("Authorization"))
		require.Equal(t, APIVersion, r.Header.Get("Version"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversations":[{"id":"conv_1","contactId":"ct_1"}],"total":1}`))
	}))
	defer apiServer.Close()

	recorder := newRotationRecorder()
	client := newTestClient(t, apiServer.URL, authServer.URL, recorder)

	result, err := client.GetConversations(context.Background(), ConversationQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Conversations, 1)
	require.Equal(t, "conv_1", result.Conversations[0].ID)

	require.Zero(t, refreshes.Load(), "no refresh on a successful call")
	require.Zero(t, recorder.count(), "listener must not fire without a refresh")
}

func TestRefreshAndRetryOn401(t *testing.T) {
	var refreshes atomic.Int64
	authServer := newAuthServer(t, "at_999", "rt_next", &refreshes)
	defer authServer.Close()

	var apiCalls atomic.Int64
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer at_999" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"statusCode":401,"message":"Invalid JWT"}`))
			return
		}
		require.Equal(t, "loc_1", r.URL.Query().Get("locationId"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversations":[{"id":"conv_2"}],"total":1}`))
	}))
	defer apiServer.Close()

	recorder := newRotationRecorder()
	client := newTestClient(t, apiServer.URL, authServer.URL, recorder)

	result, err := client.GetConversations(context.Background(), ConversationQuery{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "conv_2", result.Conversations[0].ID)

	require.Equal(t, int64(1), refreshes.Load(), "exactly one refresh per failed call")
	require.Equal(t, int64(2), apiCalls.Load(), "original call plus one retry")

	pair := recorder.wait(t)
	require.Equal(t, "at_999", pair[0])
	require.Equal(t, "rt_next", pair[1])

	creds := client.Credentials()
	require.Equal(t, "at_999", creds.AccessToken)
	require.Equal(t, "rt_next", creds.RefreshToken)
	require.Equal(t, int64(1), client.RotationCount())
}

func TestNoSecondRefreshWhenRetryFails(t *testing.T) {
	var refreshes atomic.Int64
	authServer := newAuthServer(t, "at_999", "rt_next", &refreshes)
	defer authServer.Close()

	var apiCalls atomic.Int64
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"statusCode":401,"message":"Invalid JWT"}`))
	}))
	defer apiServer.Close()

	recorder := newRotationRecorder()
	client := newTestClient(t, apiServer.URL, authServer.URL, recorder)

	_, err := client.GetConversations(context.Background(), ConversationQuery{})
	require.Error(t, err)
	require.Equal(t, KindAuthFailed, KindOf(err))

	require.Equal(t, int64(1), refreshes.Load(), "a persistently broken call must not loop refreshes")
	require.Equal(t, int64(2), apiCalls.Load())

	// The refresh itself succeeded, so the new pair is still announced.
	pair := recorder.wait(t)
	require.Equal(t, "at_999", pair[0])
}

func TestRefreshTokenExpiredSurfacesDistinctly(t *testing.T) {
	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer authServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"statusCode":401,"message":"Invalid JWT"}`))
	}))
	defer apiServer.Close()

	recorder := newRotationRecorder()
	client := newTestClient(t, apiServer.URL, authServer.URL, recorder)

	_, err := client.GetConversations(context.Background(), ConversationQuery{})
	require.Error(t, err)
	require.Equal(t, KindRefreshTokenExpired, KindOf(err))
	require.True(t, IsRefreshTokenExpired(err))
	require.Zero(t, recorder.count())
}

func TestNoRefreshCapabilitySurfacesOriginalError(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"statusCode":401,"message":"Invalid JWT"}`))
	}))
	defer apiServer.Close()

	client, err := NewClient(Options{
		AccessToken: "at_expired",
		LocationID:  "loc_1",
		APIBaseURL:  apiServer.URL,
		HTTPClient:  testHTTPClient(),
	})
	require.NoError(t, err)

	_, err = client.GetConversations(context.Background(), ConversationQuery{})
	require.Error(t, err)
	require.Equal(t, KindAuthFailed, KindOf(err))
}

func TestNetworkErrorDoesNotTriggerRefresh(t *testing.T) {
	var refreshes atomic.Int64
	authServer := newAuthServer(t, "at_999", "rt_next", &refreshes)
	defer authServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	apiServer.Close()

	client := newTestClient(t, apiServer.URL, authServer.URL, nil)

	_, err := client.GetConversations(context.Background(), ConversationQuery{})
	require.Error(t, err)
	require.Equal(t, KindTransient, KindOf(err))
	require.Zero(t, refreshes.Load())
}

func TestConcurrentCallsShareOneRefresh(t *testing.T) {
	// The authorization server accepts each refresh token at most once, the
	// way the real one does. Without single-flight collapsing, concurrent
	// 401s would race: the second refresh would reuse the rotated-away
	// token and fail with invalid_grant.
	var (
		mu        sync.Mutex
		used      = map[string]bool{}
		issued    = map[string]bool{"rt_123": true}
		refreshes int
	)
	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		rt := r.PostForm.Get("refresh_token")

		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if used[rt] || !issued[rt] {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		used[rt] = true
		refreshes++
		newAccess := fmt.Sprintf("at_fresh_%d", refreshes)
		newRefresh := fmt.Sprintf("rt_fresh_%d", refreshes)
		issued[newRefresh] = true
		// Slow the grant down so concurrent callers join the flight.
		time.Sleep(200 * time.Millisecond)
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":%q,"token_type":"Bearer","expires_in":86400}`, newAccess, newRefresh)
	}))
	defer authServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "Bearer at_expired" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"statusCode":401,"message":"Invalid JWT"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversations":[],"total":0}`))
	}))
	defer apiServer.Close()

	recorder := newRotationRecorder()
	client := newTestClient(t, apiServer.URL, authServer.URL, recorder)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetConversations(context.Background(), ConversationQuery{Limit: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "no caller may lose the refresh race")
	}

	mu.Lock()
	got := refreshes
	mu.Unlock()
	require.Equal(t, 1, got, "concurrent 401s must collapse into one refresh")

	recorder.wait(t)
	require.Equal(t, 1, recorder.count(), "one rotation, one notification")
}

func TestSendMessageDefaultsToSMS(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/conversations/messages", r.URL.Path)

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "SMS", req.Type)
		require.Equal(t, "ct_1", req.ContactID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversationId":"conv_1","messageId":"msg_1"}`))
	}))
	defer apiServer.Close()

	client := newTestClient(t, apiServer.URL, "http://unused", nil)

	result, err := client.SendMessage(context.Background(), SendMessageRequest{ContactID: "ct_1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "msg_1", result.MessageID)

	_, err = client.SendMessage(context.Background(), SendMessageRequest{ContactID: "ct_1"})
	require.Equal(t, KindConfiguration, KindOf(err))
}

func TestCreateContactInjectsLocation(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "loc_1", payload["locationId"])
		require.Equal(t, "Jordan", payload["firstName"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"contact":{"id":"ct_9","firstName":"Jordan"}}`))
	}))
	defer apiServer.Close()

	client := newTestClient(t, apiServer.URL, "http://unused", nil)

	contact, err := client.CreateContact(context.Background(), CreateContactRequest{FirstName: "Jordan"})
	require.NoError(t, err)
	require.Equal(t, "ct_9", contact.ID)
}

func TestStarConversation(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/conversations/conv_5", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, true, payload["starred"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversation":{"id":"conv_5","starred":true}}`))
	}))
	defer apiServer.Close()

	client := newTestClient(t, apiServer.URL, "http://unused", nil)

	conv, err := client.StarConversation(context.Background(), "conv_5", true)
	require.NoError(t, err)
	require.True(t, conv.Starred)
}

func TestGetContactAndSearch(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/contacts/ct_1":
			w.Write([]byte(`{"contact":{"id":"ct_1","email":"a@b.co"}}`))
		case "/contacts/":
			require.Equal(t, "smith", r.URL.Query().Get("query"))
			require.Equal(t, "loc_1", r.URL.Query().Get("locationId"))
			w.Write([]byte(`{"contacts":[{"id":"ct_1"},{"id":"ct_2"}],"count":2}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer apiServer.Close()

	client := newTestClient(t, apiServer.URL, "http://unused", nil)

	contact, err := client.GetContact(context.Background(), "ct_1")
	require.NoError(t, err)
	require.Equal(t, "a@b.co", contact.Email)

	list, err := client.SearchContacts(context.Background(), "smith", 0)
	require.NoError(t, err)
	require.Len(t, list.Contacts, 2)
}
