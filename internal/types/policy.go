package types

// PolicyInput is the data passed to an authorization engine when deciding
// whether Actor may send a friend request to, or message, Target.
type PolicyInput struct {
	Actor  string `json:"actor"`
	Target string `json:"target"`

	// Blocked is the list of user IDs the Target has blocked
	Blocked []string `json:"blocked"`
}
