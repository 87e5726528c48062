package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientAuthHeader(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(User{ID: "u1", Username: "ana"})
	}))
	defer srv.Close()

	client := NewClient("tok-123", WithBaseURL(srv.URL))
	me, err := client.Auth.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != "u1" {
		t.Fatalf("me = %+v", me)
	}
	if gotAuth.Load() != "Bearer tok-123" {
		t.Fatalf("Authorization = %q", gotAuth.Load())
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(APIError{Code: "forbidden", Message: "not a member"})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.Workspaces.Get(context.Background(), "w1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T (%v), want *APIError", err, err)
	}
	if apiErr.Code != "forbidden" || apiErr.Message != "not a member" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestClientRefreshRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			t.Errorf("retry used stale token: %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(User{ID: "u1"})
	}))
	defer srv.Close()

	var refreshed atomic.Int32
	client := NewClient("stale", WithBaseURL(srv.URL),
		WithTokenRefresh(func(ctx context.Context) (string, error) {
			refreshed.Add(1)
			return "fresh", nil
		}))

	me, err := client.Auth.Me(context.Background())
	if err != nil {
		t.Fatalf("Me after refresh: %v", err)
	}
	if me.ID != "u1" {
		t.Fatalf("me = %+v", me)
	}
	if refreshed.Load() != 1 {
		t.Fatalf("refresh called %d times, want 1", refreshed.Load())
	}
	if calls.Load() != 2 {
		t.Fatalf("server saw %d requests, want 2", calls.Load())
	}
	if client.Credential().Token() != "fresh" {
		t.Fatal("refreshed token not stored on the credential")
	}
}

func TestClientRefreshFailsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var refreshed atomic.Int32
	client := NewClient("stale", WithBaseURL(srv.URL),
		WithTokenRefresh(func(ctx context.Context) (string, error) {
			refreshed.Add(1)
			return "still-bad", nil
		}))

	// Retry also 401s: surface the API error, do not loop.
	_, err := client.Auth.Me(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if refreshed.Load() != 1 {
		t.Fatalf("refresh called %d times, want exactly 1", refreshed.Load())
	}
}

func TestChannelsListSorted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Channel{
			{ID: "c2", Name: "zulu"},
			{ID: "c1", Name: "alpha"},
			{ID: "c3", Name: "mike"},
		})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	channels, err := client.Channels.List(context.Background(), "w1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"alpha", "mike", "zulu"}
	for i, name := range want {
		if channels[i].Name != name {
			t.Fatalf("channel order = %v, want %v", channels, want)
		}
	}
}

func TestMessagesListQuery(t *testing.T) {
	var gotPath, gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotQuery.Store(r.URL.Query().Encode())
		json.NewEncoder(w).Encode(MessagePage{HasMore: false})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.Messages.List(context.Background(), ConversationScope("d7"), "cur-5", 25)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotPath.Load() != "/api/conversations/d7/messages" {
		t.Fatalf("path = %q", gotPath.Load())
	}
	if gotQuery.Load() != "cursor=cur-5&limit=25" {
		t.Fatalf("query = %q", gotQuery.Load())
	}
}

func TestAuthRefreshTokenStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/auth/refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "next"})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	token, err := client.Auth.RefreshToken(context.Background())
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if token != "next" || client.Credential().Token() != "next" {
		t.Fatalf("token = %q, credential = %q", token, client.Credential().Token())
	}
}
