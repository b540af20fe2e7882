package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/events"
	"github.com/trainfriends/backend/internal/friends"
	"github.com/trainfriends/backend/internal/locations"
	"github.com/trainfriends/backend/internal/repositories"
)

type testEnv struct {
	server *httptest.Server
	store  *repositories.MemoryStore
	broker *events.Broker
}

func newTestEnv(t *testing.T, limiter RateLimiterFunc) *testEnv {
	t.Helper()

	store := repositories.NewMemoryStore()
	broker := events.NewBroker(events.Options{Capacity: 8, KeepAlive: 50 * time.Millisecond})
	graph := friends.NewGraph(store)

	deps := Dependencies{
		Users:          store,
		Sessions:       auth.NewManager(store),
		Friends:        graph,
		Locations:      locations.NewService(store, graph, broker),
		Events:         broker,
		AllowedOrigins: []string{"*"},
	}
	if limiter != nil {
		deps.AuthLimiter = limiter
	}

	server := httptest.NewServer(NewRouter(zerolog.Nop(), deps))
	t.Cleanup(server.Close)
	t.Cleanup(broker.Close)

	return &testEnv{server: server, store: store, broker: broker}
}

// RateLimiterFunc adapts a function to middleware.RateLimiter.
type RateLimiterFunc func(key string) bool

func (f RateLimiterFunc) Allow(key string) bool { return f(key) }

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func (r apiResponse) decode(t *testing.T, dst any) {
	t.Helper()
	if err := json.Unmarshal(r.body, dst); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func (e *testEnv) call(t *testing.T, token, method, path string, payload any) apiResponse {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return apiResponse{status: resp.StatusCode, header: resp.Header, body: out.Bytes()}
}

// signUp creates an account and returns its session token.
func (e *testEnv) signUp(t *testing.T, username string) string {
	t.Helper()
	resp := e.call(t, "", http.MethodPost, "/signup", map[string]string{"username": username, "password": "correct-horse"})
	if resp.status != http.StatusCreated {
		t.Fatalf("signup %s: expected 201 got %d %s", username, resp.status, resp.body)
	}
	var session sessionResponse
	resp.decode(t, &session)
	return session.Token
}

// befriend sends a request from one token's user to username and accepts it with acceptToken.
func (e *testEnv) befriend(t *testing.T, fromToken, toUsername, acceptToken string) {
	t.Helper()
	resp := e.call(t, fromToken, http.MethodPost, "/friend-request/create", map[string]string{"friendUsername": toUsername})
	if resp.status != http.StatusCreated {
		t.Fatalf("create request: expected 201 got %d %s", resp.status, resp.body)
	}
	var created idResponse
	resp.decode(t, &created)

	resp = e.call(t, acceptToken, http.MethodPost, "/friend-request/"+created.ID+"/accept", nil)
	if resp.status != http.StatusOK {
		t.Fatalf("accept request: expected 200 got %d %s", resp.status, resp.body)
	}
}
