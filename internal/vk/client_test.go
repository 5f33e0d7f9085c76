package vk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/limmweb/vk-messager/internal/backoff"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Token:   "test-token",
		BaseURL: server.URL,
		Sleeper: backoff.NopSleeper(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, server
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("NewClient() with no token should fail")
	}

	cfg := Config{Token: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.APIVersion != DefaultAPIVersion {
		t.Errorf("APIVersion = %q, want %q", cfg.APIVersion, DefaultAPIVersion)
	}
	if cfg.LongPollWait != DefaultLongPollWait {
		t.Errorf("LongPollWait = %d, want %d", cfg.LongPollWait, DefaultLongPollWait)
	}
	if cfg.HTTPClient.Timeout <= time.Duration(DefaultLongPollWait)*time.Second {
		t.Errorf("HTTP timeout %v must exceed the long-poll wait", cfg.HTTPClient.Timeout)
	}
}

func TestCallDecodesResponse(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users.get" {
			t.Errorf("path = %q, want /users.get", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("access_token"); got != "test-token" {
			t.Errorf("access_token = %q", got)
		}
		if got := r.Form.Get("v"); got != DefaultAPIVersion {
			t.Errorf("v = %q", got)
		}
		w.Write([]byte(`{"response": [{"id": 7, "first_name": "Ivan", "last_name": "Petrov"}]}`))
	}))

	identity, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if identity.ID != 7 || identity.Name != "Ivan Petrov" || identity.Group {
		t.Errorf("Identity() = %+v", identity)
	}
	if got := identity.EntityType(); got != "user" {
		t.Errorf("EntityType() = %q, want user", got)
	}
}

func TestCallReturnsAPIError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error": {"error_code": 15, "error_msg": "Access denied"}}`))
	}))

	_, err := client.History(context.Background(), 1, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("History() error = %v, want *APIError", err)
	}
	if apiErr.Code != 15 || apiErr.Temporary() {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestCallReturnsMalformedResponse(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json`))
	}))

	_, err := client.History(context.Background(), 1, 10)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("History() error = %v, want ErrMalformedResponse", err)
	}
}

func TestCallRetriesConnectivityFailures(t *testing.T) {
	var calls atomic.Int64
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"response": {"items": [{"from_id": 1, "text": "hi", "date": 5}]}}`))
	}))

	items, err := client.History(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 1 || items[0].Text != "hi" {
		t.Errorf("History() = %+v", items)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestCallRetriesTemporaryAPIErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"error": {"error_code": 6, "error_msg": "Too many requests per second"}}`))
			return
		}
		w.Write([]byte(`{"response": {"items": [{"from_id": 1, "text": "hi", "date": 5}]}}`))
	}))

	items, err := client.History(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 1 {
		t.Errorf("History() = %+v", items)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestCallPermanentAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error": {"error_code": 15, "error_msg": "Access denied"}}`))
	}))

	_, err := client.History(context.Background(), 1, 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("History() error = %v, want *APIError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{code: 6, want: true},
		{code: 10, want: true},
		{code: 13, want: true},
		{code: 5, want: false},
		{code: 15, want: false},
	}
	for _, tt := range tests {
		err := &APIError{Code: tt.code}
		if got := err.Temporary(); got != tt.want {
			t.Errorf("Temporary() for code %d = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGroupIdentityIsNegative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups.getById" {
			t.Errorf("path = %q, want /groups.getById", r.URL.Path)
		}
		w.Write([]byte(`{"response": [{"name": "Shop", "description": "We sell things"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Token:   "t",
		GroupID: 123,
		BaseURL: server.URL,
		Sleeper: backoff.NopSleeper(),
	})
	if err != nil {
		t.Fatal(err)
	}

	identity, err := client.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if identity.ID != -123 || !identity.Group || identity.Name != "Shop" {
		t.Errorf("Identity() = %+v", identity)
	}
	if got := identity.EntityType(); got != "group" {
		t.Errorf("EntityType() = %q, want group", got)
	}
}

func TestChatMembersSubtractsOffset(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.Form.Get("chat_id"); got != "15" {
			t.Errorf("chat_id = %q, want 15", got)
		}
		w.Write([]byte(`{"response": {"members": [{"member_id": 1}, {"member_id": -200}]}}`))
	}))

	members, err := client.ChatMembers(context.Background(), PeerChatOffset+15)
	if err != nil {
		t.Fatalf("ChatMembers() error = %v", err)
	}
	if len(members) != 2 || members[0] != 1 || members[1] != -200 {
		t.Errorf("ChatMembers() = %v", members)
	}
}

func TestSendIsSingleAttempt(t *testing.T) {
	var calls atomic.Int64
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.Send(context.Background(), 1, "hello", 42)
	if !IsConnectivity(err) {
		t.Errorf("Send() error = %v, want connectivity", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}
