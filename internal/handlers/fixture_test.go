package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/auth"
	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/policy"
	"github.com/charlieegan3/social-relay/internal/relay"
	"github.com/charlieegan3/social-relay/internal/store/sqlite"
	"github.com/charlieegan3/social-relay/internal/store/storetest"
)

const testSecret = "test-secret"

type fixture struct {
	router *mux.Router
	authn  *auth.Authenticator
	store  *sqlite.Store
	relay  *relay.Relay

	ids    map[string]string
	tokens map[string]string
}

func newFixture(t *testing.T, engine string, usernames ...string) *fixture {
	t.Helper()

	store, err := sqlite.Open(sqlite.Memory)
	if err != nil {
		t.Fatalf("failed to open store: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	authz, err := policy.New(engine)
	if err != nil {
		t.Fatalf("failed to build authorizer: %s", err)
	}

	authn := auth.NewAuthenticator(testSecret, "test", time.Hour)
	graphService := graph.NewService(store, authz)
	rl := relay.New(store, graphService, relay.NewRegistry())

	f := &fixture{
		authn:  authn,
		store:  store,
		relay:  rl,
		ids:    map[string]string{},
		tokens: map[string]string{},
	}
	f.router = NewRouter(Services{
		Authn:      authn,
		Accounts:   accounts.NewService(store, authn),
		Graph:      graphService,
		Relay:      rl,
		SendBuffer: 16,
	})

	ids := storetest.CreateUsers(t, store, usernames...)
	for i, name := range usernames {
		token, err := authn.Issue(ids[i], name)
		if err != nil {
			t.Fatalf("failed to issue token: %s", err)
		}
		f.ids[name] = ids[i]
		f.tokens[name] = token
	}

	return f
}

// path replaces {name} placeholders with user IDs
func (f *fixture) path(p string) string {
	for name, id := range f.ids {
		p = strings.ReplaceAll(p, "{"+name+"}", id)
	}
	return p
}

// do sends a request as user, or anonymously when user is empty
func (f *fixture) do(t *testing.T, user, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %s", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequest(method, f.path(path), body)
	if err != nil {
		t.Fatalf("failed to build request: %s", err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[user])
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode body %q: %s", w.Body.String(), err)
	}
}
