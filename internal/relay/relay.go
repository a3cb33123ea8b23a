// Package relay persists person-to-person messages and forwards them to the
// receiver's live connections.
//
// The store is the source of truth. A message is forwarded only after it
// has been persisted, and forwarding is best effort: a receiver with no
// bound channel reads the message later through History.
package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/types"
)

// MaxContentLength is the longest message content accepted, in bytes.
const MaxContentLength = 4096

const lockStripes = 64

// MessageStore persists messages.
type MessageStore interface {
	// SaveMessage assigns the ID, CreatedAt and Seq of m and persists it.
	SaveMessage(ctx context.Context, m *types.Message) error
	History(ctx context.Context, a, b string, q types.HistoryQuery) ([]types.Message, error)
}

// Gate decides whether sender may message receiver.
type Gate interface {
	CanMessage(ctx context.Context, sender, receiver string) error
}

type Relay struct {
	store    MessageStore
	gate     Gate
	registry *Registry

	// sends for the same (sender, receiver) pair persist and forward under
	// the same lock so they reach the receiver in acceptance order
	locks [lockStripes]sync.Mutex
}

// New returns a Relay. gate may be nil, in which case every sender may
// message every receiver.
func New(store MessageStore, gate Gate, registry *Registry) *Relay {
	return &Relay{
		store:    store,
		gate:     gate,
		registry: registry,
	}
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

// Send persists a message from sender to receiver and forwards it to each
// channel bound to receiver. The returned message is the persisted record.
// Forwarding never blocks on, or fails because of, the receiver.
func (r *Relay) Send(ctx context.Context, sender, receiver, content string) (types.Message, error) {
	if receiver == "" {
		return types.Message{}, apperr.Invalid("receiver is required")
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, apperr.Invalid("message is required")
	}
	if len(content) > MaxContentLength {
		return types.Message{}, apperr.Invalid("message is longer than %d bytes", MaxContentLength)
	}

	if r.gate != nil {
		if err := r.gate.CanMessage(ctx, sender, receiver); err != nil {
			return types.Message{}, err
		}
	}

	lock := &r.locks[xxhash.Sum64String(sender+"\x00"+receiver)%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	msg := types.Message{
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
	}
	if err := r.store.SaveMessage(ctx, &msg); err != nil {
		return types.Message{}, err
	}

	r.forward(msg)

	return msg, nil
}

func (r *Relay) forward(msg types.Message) {
	channels := r.registry.Channels(msg.Receiver)
	delivered := 0
	for _, ch := range channels {
		if ch.Deliver(msg) {
			delivered++
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "forward",
			"message":  msg.ID,
			"receiver": msg.Receiver,
			"channel":  ch.ID(),
		}).Warn("Dropped forward to slow or closed channel")
	}

	logrus.WithFields(logrus.Fields{
		"function":  "forward",
		"message":   msg.ID,
		"sender":    msg.Sender,
		"receiver":  msg.Receiver,
		"channels":  len(channels),
		"delivered": delivered,
	}).Debug("Message relayed")
}

// History returns the messages exchanged between a and b, oldest first.
func (r *Relay) History(ctx context.Context, a, b string, q types.HistoryQuery) ([]types.Message, error) {
	if q.Limit < 0 || q.After < 0 {
		return nil, apperr.Invalid("limit and after must not be negative")
	}
	return r.store.History(ctx, a, b, q)
}
