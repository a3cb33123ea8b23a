package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/charlieegan3/social-relay/internal/policy"
	"github.com/charlieegan3/social-relay/internal/types"
)

func TestFriendRequestEndpoints(t *testing.T) {
	// each step runs against the state left by the steps before it
	steps := []struct {
		Description    string
		User           string
		Method         string
		Path           string
		ExpectedStatus int
	}{
		{
			Description:    "alice sends bob a request",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{bob}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "alice cannot send bob a second request",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{bob}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "bob cannot send alice a request while one from alice is pending",
			User:           "bob",
			Method:         "POST",
			Path:           "/send-friend-request/{alice}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "alice cannot befriend an unknown user",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/missing",
			ExpectedStatus: http.StatusNotFound,
		},
		{
			Description:    "alice cannot send a request to alice",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{alice}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "requests need a credential",
			Method:         "POST",
			Path:           "/send-friend-request/{bob}",
			ExpectedStatus: http.StatusUnauthorized,
		},
		{
			Description:    "carol cannot accept a request that was never sent",
			User:           "carol",
			Method:         "POST",
			Path:           "/accept-friend-request/{alice}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "bob accepts alice",
			User:           "bob",
			Method:         "POST",
			Path:           "/accept-friend-request/{alice}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "bob cannot accept alice twice",
			User:           "bob",
			Method:         "POST",
			Path:           "/accept-friend-request/{alice}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "alice cannot send a request to a friend",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{bob}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "carol sends alice a request",
			User:           "carol",
			Method:         "POST",
			Path:           "/send-friend-request/{alice}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "alice rejects carol",
			User:           "alice",
			Method:         "POST",
			Path:           "/reject-friend-request/{carol}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "rejecting again is a no-op",
			User:           "alice",
			Method:         "POST",
			Path:           "/reject-friend-request/{carol}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "alice unfriends bob",
			User:           "alice",
			Method:         "POST",
			Path:           "/unfriend/{bob}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "bob cannot unfriend alice twice",
			User:           "bob",
			Method:         "POST",
			Path:           "/unfriend/{alice}",
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Description:    "dave blocks alice",
			User:           "dave",
			Method:         "POST",
			Path:           "/block/{alice}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "alice cannot send dave a request",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{dave}",
			ExpectedStatus: http.StatusForbidden,
		},
		{
			Description:    "dave unblocks alice",
			User:           "dave",
			Method:         "POST",
			Path:           "/unblock/{alice}",
			ExpectedStatus: http.StatusOK,
		},
		{
			Description:    "alice can send dave a request again",
			User:           "alice",
			Method:         "POST",
			Path:           "/send-friend-request/{dave}",
			ExpectedStatus: http.StatusOK,
		},
	}

	for _, engine := range policy.Engines {
		t.Run(engine, func(t *testing.T) {
			f := newFixture(t, engine, "alice", "bob", "carol", "dave")

			for _, step := range steps {
				w := f.do(t, step.User, step.Method, step.Path, nil)
				if got, want := w.Code, step.ExpectedStatus; got != want {
					t.Fatalf("%s: unexpected response code: got %d want %d (%s)", step.Description, got, want, w.Body.String())
				}
			}
		})
	}
}

func TestFriendListEndpoints(t *testing.T) {
	f := newFixture(t, "golang", "alice", "bob", "carol", "dave", "erin")

	for _, sender := range []string{"carol", "bob", "dave"} {
		w := f.do(t, sender, "POST", "/send-friend-request/{alice}", nil)
		if got, want := w.Code, http.StatusOK; got != want {
			t.Fatalf("unexpected response code: got %d want %d", got, want)
		}
	}
	if w := f.do(t, "alice", "POST", "/accept-friend-request/{bob}", nil); w.Code != http.StatusOK {
		t.Fatalf("failed to accept: %s", w.Body.String())
	}

	t.Run("pending requests oldest first", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/friend-requests", nil)
		if got, want := w.Code, http.StatusOK; got != want {
			t.Fatalf("unexpected response code: got %d want %d", got, want)
		}

		var body struct {
			FriendRequests []types.Profile `json:"friendRequests"`
		}
		decode(t, w, &body)
		if got, want := usernamesOf(body.FriendRequests), "carol,dave"; got != want {
			t.Fatalf("unexpected requests: got %s want %s", got, want)
		}
	})

	t.Run("friends are symmetric", func(t *testing.T) {
		for user, expected := range map[string]string{"alice": "bob", "bob": "alice", "carol": ""} {
			w := f.do(t, user, "GET", "/friends", nil)
			var body struct {
				Friends []types.Profile `json:"friends"`
			}
			decode(t, w, &body)
			if got, want := usernamesOf(body.Friends), expected; got != want {
				t.Fatalf("unexpected friends for %s: got %s want %s", user, got, want)
			}
		}
	})

	t.Run("suggestions exclude related users", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/suggested-friends", nil)
		var body struct {
			SuggestedFriends []types.Profile `json:"suggestedFriends"`
		}
		decode(t, w, &body)
		if got, want := usernamesOf(body.SuggestedFriends), "erin"; got != want {
			t.Fatalf("unexpected suggestions: got %s want %s", got, want)
		}

		// requests to alice do not hide anyone from erin
		w = f.do(t, "erin", "GET", "/suggested-friends?limit=10", nil)
		decode(t, w, &body)
		if got, want := len(body.SuggestedFriends), 4; got != want {
			t.Fatalf("unexpected suggestion count: got %d want %d", got, want)
		}
	})

	t.Run("search", func(t *testing.T) {
		testCases := []struct {
			Query    string
			Expected string
		}{
			{Query: "ALI", Expected: "alice"},
			{Query: "a", Expected: "alice,carol,dave"},
			{Query: "zzz", Expected: ""},
			{Query: "", Expected: ""},
		}

		for _, tc := range testCases {
			w := f.do(t, "bob", "GET", fmt.Sprintf("/search/users?query=%s", tc.Query), nil)
			if got, want := w.Code, http.StatusOK; got != want {
				t.Fatalf("unexpected response code: got %d want %d", got, want)
			}
			var users []types.Profile
			decode(t, w, &users)
			if got, want := usernamesOf(users), tc.Expected; got != want {
				t.Fatalf("unexpected results for %q: got %s want %s", tc.Query, got, want)
			}
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := f.do(t, "alice", "GET", "/suggested-friends?limit=-1", nil)
		if got, want := w.Code, http.StatusBadRequest; got != want {
			t.Fatalf("unexpected response code: got %d want %d", got, want)
		}
	})
}

func usernamesOf(profiles []types.Profile) string {
	names := ""
	for i, p := range profiles {
		if i > 0 {
			names += ","
		}
		names += p.Username
	}
	return names
}
