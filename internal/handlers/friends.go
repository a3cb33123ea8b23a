package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/helpers"
)

func UnfriendHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Unfriend(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "Successfully unfriended")
	}
}

func FriendsHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		friends, err := svc.Friends(r.Context(), actingUser(r))
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, map[string]interface{}{"friends": friends})
	}
}

// SuggestedFriendsHandler lists users the acting user has no relation with
func SuggestedFriendsHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		suggestions, err := svc.Suggest(r.Context(), actingUser(r), int(limit))
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, map[string]interface{}{"suggestedFriends": suggestions})
	}
}

// SearchUsersHandler matches ?query= against usernames and display names
func SearchUsersHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		users, err := svc.Search(r.Context(), r.URL.Query().Get("query"), int(limit))
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, users)
	}
}

func BlockHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Block(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "User blocked successfully")
	}
}

func UnblockHandler(svc *graph.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Unblock(r.Context(), actingUser(r), mux.Vars(r)["id"]); err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteMessage(w, http.StatusOK, "User unblocked successfully")
	}
}

// queryInt parses an optional non-negative integer query parameter
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("%s must be a non-negative integer", name)
	}
	return n, nil
}
