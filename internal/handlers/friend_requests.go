package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/helpers"
)

// SendFriendRequestHandler creates a pending request from the acting user
// to the user in the path, if permitted
func SendFriendRequestHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SendRequest(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "Friend request sent successfully")
	}
}

func AcceptFriendRequestHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.AcceptRequest(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "Friend request accepted successfully")
	}
}

func RejectFriendRequestHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RejectRequest(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "Friend request rejected successfully")
	}
}

// FriendRequestsHandler lists the users waiting on the acting user, oldest
// first
func FriendRequestsHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, err := svc.PendingRequests(r.Context(), actingUser(r))
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, map[string]interface{}{"friendRequests": requests})
	}
}
