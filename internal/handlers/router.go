package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/auth"
	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/helpers"
	"github.com/charlieegan3/social-relay/internal/relay"
)

// Services are the dependencies shared by the handlers.
type Services struct {
	Authn    *auth.Authenticator
	Accounts *accounts.Service
	Graph    *graph.Service
	Relay    *relay.Relay

	// SendBuffer bounds the events queued per socket
	SendBuffer int
}

// NewRouter registers every endpoint. Routes other than signup, login and
// the socket handshake require a bearer token.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()
	r.Use(helpers.AccessLog())

	r.HandleFunc("/signup", SignupHandler(s.Accounts)).Methods("POST")
	r.HandleFunc("/login", LoginHandler(s.Accounts)).Methods("POST")
	r.HandleFunc("/socket", SocketHandler(s.Authn, s.Relay, s.SendBuffer)).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(helpers.RequireAuth(s.Authn))

	api.HandleFunc("/current-user", CurrentUserHandler(s.Accounts)).Methods("GET")

	api.HandleFunc("/search/users", SearchUsersHandler(s.Graph)).Methods("GET")
	api.HandleFunc("/suggested-friends", SuggestedFriendsHandler(s.Graph)).Methods("GET")
	api.HandleFunc("/send-friend-request/{id}", SendFriendRequestHandler(s.Graph)).Methods("POST")
	api.HandleFunc("/accept-friend-request/{id}", AcceptFriendRequestHandler(s.Graph)).Methods("POST")
	api.HandleFunc("/reject-friend-request/{id}", RejectFriendRequestHandler(s.Graph)).Methods("POST")
	api.HandleFunc("/friend-requests", FriendRequestsHandler(s.Graph)).Methods("GET")
	api.HandleFunc("/unfriend/{id}", UnfriendHandler(s.Graph)).Methods("POST")
	api.HandleFunc("/friends", FriendsHandler(s.Graph)).Methods("GET")
	api.HandleFunc("/block/{id}", BlockHandler(s.Graph)).Methods("POST")
	api.HandleFunc("/unblock/{id}", UnblockHandler(s.Graph)).Methods("POST")

	api.HandleFunc("/chats/{userId}", GetChatsHandler(s.Relay)).Methods("GET")
	api.HandleFunc("/chats", PostChatHandler(s.Relay)).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteJSON(w, http.StatusNotFound, helpers.ErrorBody{Error: "no such endpoint", Kind: apperr.KindNotFound})
	})

	return r
}

// actingUser returns the verified user id of the request. RequireAuth has
// already rejected requests without one.
func actingUser(r *http.Request) string {
	identity, _ := helpers.IdentityFrom(r.Context())
	return identity.UserID
}
