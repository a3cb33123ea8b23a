package handlers

import (
	"net/http"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/helpers"
)

// SignupHandler registers a new user and returns their public profile
func SignupHandler(svc *accounts.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload accounts.Signup
		if err := helpers.DecodeJSON(r, &payload); err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		user, err := svc.Register(r.Context(), payload)
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		helpers.WriteJSON(w, http.StatusCreated, user.Profile())
	}
}
