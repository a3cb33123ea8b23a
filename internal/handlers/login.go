package handlers

import (
	"net/http"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/helpers"
	"github.com/charlieegan3/social-relay/internal/types"
)

type loginResponse struct {
	Token string        `json:"token"`
	User  types.Profile `json:"user"`
}

// LoginHandler exchanges a username and password for a bearer token
func LoginHandler(svc *accounts.Service) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := helpers.DecodeJSON(r, &payload); err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		token, user, err := svc.Login(r.Context(), payload.Username, payload.Password)
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		helpers.WriteJSON(w, http.StatusOK, loginResponse{Token: token, User: user.Profile()})
	}
}
