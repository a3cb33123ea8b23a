package types

import "time"

// Message is a person-to-person chat message. It is immutable once
// persisted.
type Message struct {
	ID       string `json:"id" bson:"_id"`
	Sender   string `json:"sender" bson:"sender"`
	Receiver string `json:"receiver" bson:"receiver"`
	Content  string `json:"message" bson:"content"`

	// CreatedAt is assigned by the store at persistence time
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// Seq is the storage order, used to break CreatedAt ties and as the
	// paging cursor for history queries
	Seq int64 `json:"seq" bson:"seq"`
}

// HistoryQuery pages through the messages exchanged between two users.
type HistoryQuery struct {
	// After only returns messages with a Seq greater than this cursor
	After int64

	// Limit caps the number of messages returned, zero means no cap
	Limit int
}
