package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/store/sqlite"
	"github.com/charlieegan3/social-relay/internal/types"
)

type fakeChannel struct {
	id string

	mu       sync.Mutex
	full     bool
	received []types.Message
}

func (c *fakeChannel) ID() string {
	return c.id
}

func (c *fakeChannel) Deliver(msg types.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.received = append(c.received, msg)
	return true
}

func (c *fakeChannel) messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.received...)
}

type denyGate struct{}

func (denyGate) CanMessage(context.Context, string, string) error {
	return apperr.Authorization("blocked")
}

type failingStore struct{}

func (failingStore) SaveMessage(context.Context, *types.Message) error {
	return apperr.Internal(errors.New("disk full"), "failed to save message")
}

func (failingStore) History(context.Context, string, string, types.HistoryQuery) ([]types.Message, error) {
	return nil, nil
}

func newRelay(t *testing.T) *Relay {
	t.Helper()

	store, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, nil, NewRegistry())
}

func TestSendToOfflineReceiver(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	msg, err := r.Send(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.Receiver)
	assert.Equal(t, "hi", msg.Content)

	history, err := r.History(ctx, "bob", "alice", types.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.Equal(t, "hi", history[0].Content)
}

func TestSendForwardsPersistedMessage(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	phone := &fakeChannel{id: "phone"}
	laptop := &fakeChannel{id: "laptop"}
	other := &fakeChannel{id: "other"}
	r.Registry().Bind("bob", phone)
	r.Registry().Bind("bob", laptop)
	r.Registry().Bind("carol", other)

	msg, err := r.Send(ctx, "alice", "bob", "hi")
	require.NoError(t, err)

	history, err := r.History(ctx, "alice", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	stored := history[0]

	for _, ch := range []*fakeChannel{phone, laptop} {
		received := ch.messages()
		require.Len(t, received, 1, ch.id)

		got := received[0]
		assert.Equal(t, stored.ID, got.ID)
		assert.Equal(t, stored.Sender, got.Sender)
		assert.Equal(t, stored.Receiver, got.Receiver)
		assert.Equal(t, stored.Content, got.Content)
		assert.Equal(t, stored.Seq, got.Seq)
		assert.True(t, stored.CreatedAt.Equal(got.CreatedAt))
	}
	assert.Empty(t, other.messages())
	assert.Equal(t, msg.ID, stored.ID)
}

func TestSendIgnoresFullChannel(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	full := &fakeChannel{id: "full", full: true}
	ok := &fakeChannel{id: "ok"}
	r.Registry().Bind("bob", full)
	r.Registry().Bind("bob", ok)

	_, err := r.Send(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	assert.Len(t, ok.messages(), 1)
}

func TestSendAfterUnbind(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	ch := &fakeChannel{id: "phone"}
	r.Registry().Bind("bob", ch)
	r.Registry().Unbind("bob", ch)

	_, err := r.Send(ctx, "alice", "bob", "hi")
	require.NoError(t, err)
	assert.Empty(t, ch.messages())

	history, err := r.History(ctx, "alice", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	ch := &fakeChannel{id: "phone"}
	r.Registry().Bind("bob", ch)

	for _, content := range []string{"one", "two", "three"} {
		_, err := r.Send(ctx, "alice", "bob", content)
		require.NoError(t, err)
	}

	received := ch.messages()
	require.Len(t, received, 3)

	history, err := r.History(ctx, "alice", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := range history {
		assert.Equal(t, history[i].ID, received[i].ID)
	}
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	r := newRelay(t)

	testCases := []struct {
		Description string
		Receiver    string
		Content     string
	}{
		{Description: "missing receiver", Receiver: "", Content: "hi"},
		{Description: "empty message", Receiver: "bob", Content: ""},
		{Description: "blank message", Receiver: "bob", Content: "  \n"},
		{Description: "long message", Receiver: "bob", Content: strings.Repeat("x", MaxContentLength+1)},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			_, err := r.Send(ctx, "alice", tc.Receiver, tc.Content)
			assert.True(t, apperr.Is(err, apperr.KindInvalid), "got %v", err)
		})
	}

	history, err := r.History(ctx, "alice", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = r.History(ctx, "alice", "bob", types.HistoryQuery{Limit: -1})
	assert.True(t, apperr.Is(err, apperr.KindInvalid), "got %v", err)
}

func TestSendDeniedByGate(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	defer store.Close()

	ch := &fakeChannel{id: "phone"}
	registry := NewRegistry()
	registry.Bind("bob", ch)
	r := New(store, denyGate{}, registry)

	_, err = r.Send(ctx, "alice", "bob", "hi")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization), "got %v", err)
	assert.Empty(t, ch.messages())

	history, err := r.History(ctx, "alice", "bob", types.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendNotForwardedWhenSaveFails(t *testing.T) {
	ch := &fakeChannel{id: "phone"}
	registry := NewRegistry()
	registry.Bind("bob", ch)
	r := New(failingStore{}, nil, registry)

	_, err := r.Send(context.Background(), "alice", "bob", "hi")
	assert.True(t, apperr.Is(err, apperr.KindInternal), "got %v", err)
	assert.Empty(t, ch.messages())
}
