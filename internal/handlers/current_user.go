package handlers

import (
	"net/http"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/helpers"
)

// CurrentUserHandler reports back to the user who they are, with their
// friends and pending requests
func CurrentUserHandler(svc *accounts.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := svc.Get(r.Context(), actingUser(r))
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		helpers.WriteJSON(w, http.StatusOK, user)
	}
}
