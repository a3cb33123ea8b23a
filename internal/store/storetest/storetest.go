// Package storetest is a conformance suite run against every store
// implementation.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/relay"
	"github.com/charlieegan3/social-relay/internal/types"
)

// Store is everything a backing store provides.
type Store interface {
	accounts.Store
	graph.Store
	relay.MessageStore
}

// Run runs the suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"Users", testUsers},
		{"RequestLifecycle", testRequestLifecycle},
		{"PendingOrder", testPendingOrder},
		{"RemoveRequest", testRemoveRequest},
		{"Unfriend", testUnfriend},
		{"Suggestions", testSuggestions},
		{"Search", testSearch},
		{"Blocks", testBlocks},
		{"RepairClean", testRepairClean},
		{"ConcurrentAccept", testConcurrentAccept},
		{"ConcurrentSend", testConcurrentSend},
		{"Messages", testMessages},
		{"HistoryPaging", testHistoryPaging},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// CreateUsers registers users with the given usernames and returns their IDs
// in the same order.
func CreateUsers(t *testing.T, s accounts.Store, usernames ...string) []string {
	t.Helper()

	ids := make([]string, len(usernames))
	for i, name := range usernames {
		u := &types.User{Username: name, DisplayName: name}
		require.NoError(t, s.CreateUser(context.Background(), u))
		ids[i] = u.ID
	}
	return ids
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "got %v", err)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	u := &types.User{Username: "alice", DisplayName: "Alice Liddell", Email: "alice@example.com", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "Alice Liddell", got.DisplayName)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Empty(t, got.Friends)
	assert.Empty(t, got.FriendRequests)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	requireKind(t, s.CreateUser(ctx, &types.User{Username: "alice"}), apperr.KindConflict)

	_, err = s.GetUser(ctx, "missing")
	requireKind(t, err, apperr.KindNotFound)

	ids := CreateUsers(t, s, "bob", "carol")
	profiles, err := s.GetProfiles(ctx, []string{ids[1], "missing", u.ID, ids[0]})
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, []string{"carol", "alice", "bob"}, []string{profiles[0].Username, profiles[1].Username, profiles[2].Username})
}

func testRequestLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	require.NoError(t, s.CreateRequest(ctx, alice, bob))
	requireKind(t, s.CreateRequest(ctx, alice, bob), apperr.KindConflict)
	requireKind(t, s.CreateRequest(ctx, bob, alice), apperr.KindConflict)
	requireKind(t, s.CreateRequest(ctx, alice, alice), apperr.KindConflict)

	b, err := s.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, b.FriendRequests)

	// the request is directional, so only bob may accept it
	requireKind(t, s.AcceptRequest(ctx, alice, bob), apperr.KindConflict)

	require.NoError(t, s.AcceptRequest(ctx, bob, alice))
	requireKind(t, s.AcceptRequest(ctx, bob, alice), apperr.KindConflict)

	a, err := s.GetUser(ctx, alice)
	require.NoError(t, err)
	b, err = s.GetUser(ctx, bob)
	require.NoError(t, err)

	assert.Equal(t, []string{bob}, a.Friends)
	assert.Equal(t, []string{alice}, b.Friends)
	assert.Empty(t, b.FriendRequests)
	assert.Empty(t, a.FriendRequests)

	requireKind(t, s.CreateRequest(ctx, alice, bob), apperr.KindConflict)
	requireKind(t, s.CreateRequest(ctx, bob, alice), apperr.KindConflict)
}

func testPendingOrder(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "target", "first", "second", "third")

	for _, sender := range []string{ids[2], ids[1], ids[3]} {
		require.NoError(t, s.CreateRequest(ctx, sender, ids[0]))
	}

	u, err := s.GetUser(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1], ids[3]}, u.FriendRequests)

	profiles, err := s.GetProfiles(ctx, u.FriendRequests)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "second", profiles[0].Username)
}

func testRemoveRequest(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	require.NoError(t, s.CreateRequest(ctx, alice, bob))

	removed, err := s.RemoveRequest(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveRequest(ctx, bob, alice)
	require.NoError(t, err)
	assert.False(t, removed)

	requireKind(t, s.AcceptRequest(ctx, bob, alice), apperr.KindConflict)

	// a rejected request can be sent again
	require.NoError(t, s.CreateRequest(ctx, alice, bob))
}

func testUnfriend(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]

	requireKind(t, s.RemoveFriend(ctx, alice, bob), apperr.KindConflict)

	require.NoError(t, s.CreateRequest(ctx, alice, bob))
	require.NoError(t, s.AcceptRequest(ctx, bob, alice))
	require.NoError(t, s.CreateRequest(ctx, carol, alice))
	require.NoError(t, s.AcceptRequest(ctx, alice, carol))

	require.NoError(t, s.RemoveFriend(ctx, alice, bob))
	requireKind(t, s.RemoveFriend(ctx, alice, bob), apperr.KindConflict)
	requireKind(t, s.RemoveFriend(ctx, bob, alice), apperr.KindConflict)

	a, err := s.GetUser(ctx, alice)
	require.NoError(t, err)
	b, err := s.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{carol}, a.Friends)
	assert.Empty(t, b.Friends)
}

func testSuggestions(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob", "carol", "dave", "erin", "frank")
	alice, bob, carol, dave, erin, frank := ids[0], ids[1], ids[2], ids[3], ids[4], ids[5]

	// bob: friend, carol: pending from alice, dave: pending to alice,
	// erin: blocked by alice, frank: unrelated
	require.NoError(t, s.CreateRequest(ctx, alice, bob))
	require.NoError(t, s.AcceptRequest(ctx, bob, alice))
	require.NoError(t, s.CreateRequest(ctx, alice, carol))
	require.NoError(t, s.CreateRequest(ctx, dave, alice))
	require.NoError(t, s.Block(ctx, alice, erin))

	suggestions, err := s.Suggestions(ctx, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, []types.Profile{{ID: frank, Username: "frank", DisplayName: "frank"}}, suggestions)

	// carol only has a relation with alice
	suggestions, err = s.Suggestions(ctx, carol, 0)
	require.NoError(t, err)
	var names []string
	for _, p := range suggestions {
		names = append(names, p.Username)
	}
	assert.ElementsMatch(t, []string{"bob", "dave", "erin", "frank"}, names)

	// erin is blocked by alice, so alice is not suggested to erin either
	suggestions, err = s.Suggestions(ctx, erin, 0)
	require.NoError(t, err)
	for _, p := range suggestions {
		assert.NotEqual(t, alice, p.ID)
		assert.NotEqual(t, erin, p.ID)
	}

	limited, err := s.Suggestions(ctx, carol, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testSearch(t *testing.T, s Store) {
	ctx := context.Background()

	for _, u := range []*types.User{
		{Username: "alice", DisplayName: "Alice Liddell", Email: "a@example.com", PasswordHash: "x"},
		{Username: "bob", DisplayName: "Bob Builder"},
		{Username: "malice", DisplayName: "M"},
		{Username: "dot.user", DisplayName: "Dots"},
	} {
		require.NoError(t, s.CreateUser(ctx, u))
	}

	results, err := s.SearchUsers(ctx, "ALI", 0)
	require.NoError(t, err)
	var names []string
	for _, p := range results {
		names = append(names, p.Username)
	}
	assert.Equal(t, []string{"alice", "malice"}, names)

	results, err = s.SearchUsers(ctx, "builder", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Username)

	// the query is matched literally
	results, err = s.SearchUsers(ctx, ".", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "dot.user", results[0].Username)

	results, err = s.SearchUsers(ctx, "zzz", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.SearchUsers(ctx, "i", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func testBlocks(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	require.NoError(t, s.Block(ctx, alice, bob))
	require.NoError(t, s.Block(ctx, alice, bob))

	a, err := s.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, a.Blocked)

	require.NoError(t, s.Unblock(ctx, alice, bob))
	require.NoError(t, s.Unblock(ctx, alice, bob))

	a, err = s.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, a.Blocked)

	// blocking drops the request waiting on the blocker
	require.NoError(t, s.CreateRequest(ctx, bob, alice))
	require.NoError(t, s.Block(ctx, alice, bob))

	a, err = s.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, a.FriendRequests)

	// and refuses new ones until unblocked
	requireKind(t, s.CreateRequest(ctx, bob, alice), apperr.KindAuthorization)

	a, err = s.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, a.FriendRequests)

	require.NoError(t, s.Unblock(ctx, alice, bob))
	require.NoError(t, s.CreateRequest(ctx, bob, alice))
}

func testRepairClean(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob", "carol")

	require.NoError(t, s.CreateRequest(ctx, ids[0], ids[1]))
	require.NoError(t, s.AcceptRequest(ctx, ids[1], ids[0]))
	require.NoError(t, s.CreateRequest(ctx, ids[2], ids[0]))

	n, err := s.Repair(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	a, err := s.GetUser(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, a.FriendRequests, "unrelated requests survive repair")
}

func testConcurrentAccept(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	require.NoError(t, s.CreateRequest(ctx, alice, bob))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AcceptRequest(ctx, bob, alice)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	a, err := s.GetUser(ctx, alice)
	require.NoError(t, err)
	b, err := s.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, a.Friends)
	assert.Equal(t, []string{alice}, b.Friends)
	assert.Empty(t, b.FriendRequests)
}

func testConcurrentSend(t *testing.T, s Store) {
	ctx := context.Background()
	ids := CreateUsers(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateRequest(ctx, alice, bob); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	b, err := s.GetUser(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, b.FriendRequests)
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()

	m := &types.Message{Sender: "alice", Receiver: "bob", Content: "hi"}
	require.NoError(t, s.SaveMessage(ctx, m))
	assert.NotEmpty(t, m.ID)
	assert.NotZero(t, m.Seq)
	assert.False(t, m.CreatedAt.IsZero())

	require.NoError(t, s.SaveMessage(ctx, &types.Message{Sender: "bob", Receiver: "alice", Content: "hello"}))
	require.NoError(t, s.SaveMessage(ctx, &types.Message{Sender: "alice", Receiver: "carol", Content: "psst"}))
	require.NoError(t, s.SaveMessage(ctx, &types.Message{Sender: "alice", Receiver: "bob", Content: "how are you"}))

	history, err := s.History(ctx, "bob", "alice", types.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 3)

	var contents []string
	for _, h := range history {
		contents = append(contents, h.Content)
	}
	assert.Equal(t, []string{"hi", "hello", "how are you"}, contents)

	first := history[0]
	assert.Equal(t, m.ID, first.ID)
	assert.Equal(t, m.Sender, first.Sender)
	assert.Equal(t, m.Receiver, first.Receiver)
	assert.Equal(t, m.Seq, first.Seq)
	assert.True(t, m.CreatedAt.Equal(first.CreatedAt), "persisted %s, read back %s", m.CreatedAt, first.CreatedAt)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}

	empty, err := s.History(ctx, "carol", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testHistoryPaging(t *testing.T, s Store) {
	ctx := context.Background()

	for _, content := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, s.SaveMessage(ctx, &types.Message{Sender: "alice", Receiver: "bob", Content: content}))
	}

	page, err := s.History(ctx, "alice", "bob", types.HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].Content)
	assert.Equal(t, "2", page[1].Content)

	page, err = s.History(ctx, "alice", "bob", types.HistoryQuery{After: page[1].Seq, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "3", page[0].Content)
	assert.Equal(t, "4", page[1].Content)

	page, err = s.History(ctx, "alice", "bob", types.HistoryQuery{After: page[1].Seq})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "5", page[0].Content)
}
