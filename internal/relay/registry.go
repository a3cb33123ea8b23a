package relay

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/types"
)

// Channel is one open delivery path to a connected client instance.
type Channel interface {
	ID() string
	// Deliver queues msg for the client without blocking. It reports false
	// if the message could not be queued.
	Deliver(msg types.Message) bool
}

// Registry maps verified user IDs to their currently bound channels. A user
// may hold several channels at once, one per device. It lives for the life
// of the process and is never persisted.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Channel
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]Channel),
	}
}

// Bind adds ch to the channels of userID.
func (r *Registry) Bind(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bound, ok := r.channels[userID]
	if !ok {
		bound = make(map[string]Channel)
		r.channels[userID] = bound
	}
	bound[ch.ID()] = ch

	logrus.WithFields(logrus.Fields{
		"function": "Bind",
		"user":     userID,
		"channel":  ch.ID(),
		"bound":    len(bound),
	}).Debug("Channel bound")
}

// Unbind removes ch from the channels of userID. Unbinding a channel that
// is not bound does nothing.
func (r *Registry) Unbind(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bound, ok := r.channels[userID]
	if !ok {
		return
	}
	delete(bound, ch.ID())
	if len(bound) == 0 {
		delete(r.channels, userID)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Unbind",
		"user":     userID,
		"channel":  ch.ID(),
		"bound":    len(bound),
	}).Debug("Channel unbound")
}

// Channels returns a snapshot of the channels bound to userID.
func (r *Registry) Channels(userID string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := r.channels[userID]
	channels := make([]Channel, 0, len(bound))
	for _, ch := range bound {
		channels = append(channels, ch)
	}
	return channels
}

// Connected reports whether userID has at least one bound channel.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID]) > 0
}

// Count returns the number of bound channels across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, bound := range r.channels {
		n += len(bound)
	}
	return n
}
