package types

import "time"

type User struct {
	// ID is the stable identifier carried as the subject of issued tokens
	ID string `json:"id" bson:"_id"`

	// Username is the unique login name, also matched by search
	Username string `json:"username" bson:"username"`

	DisplayName string `json:"displayName" bson:"displayName"`
	Email       string `json:"email,omitempty" bson:"email"`

	// PasswordHash is the bcrypt hash of the password. It is never written
	// out in responses.
	PasswordHash string `json:"-" bson:"passwordHash"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// Friends is the set of user IDs of current accepted friends. The
	// relation is symmetric: if Bob is in Alice's Friends then Alice is in
	// Bob's.
	Friends []string `json:"friends" bson:"-"`

	// FriendRequests is the list of user IDs of unaccepted friend requests
	// the user has yet to decide on, in the order they were sent. E.g. if
	// Bob sends a friend request to Alice, Alice's list of FriendRequests is
	// extended to include Bob.
	FriendRequests []string `json:"pendingFriendRequests" bson:"pendingFriendRequests"`

	// Blocked is the set of user IDs this user refuses requests and
	// messages from
	Blocked []string `json:"blocked,omitempty" bson:"blocked"`
}

// Profile is the public projection of a User returned by search,
// suggestions and request listings.
type Profile struct {
	ID          string `json:"id" bson:"_id"`
	Username    string `json:"username" bson:"username"`
	DisplayName string `json:"displayName" bson:"displayName"`
}

// Profile returns the public fields of u.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}
