package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/helpers"
	"github.com/charlieegan3/social-relay/internal/relay"
	"github.com/charlieegan3/social-relay/internal/types"
)

// GetChatsHandler returns the messages between the acting user and the user
// in the path, oldest first. ?after= takes the seq of the last message seen
// and ?limit= caps the page.
func GetChatsHandler(rl *relay.Relay) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		after, err := queryInt(r, "after")
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		messages, err := rl.History(r.Context(), actingUser(r), mux.Vars(r)["userId"], types.HistoryQuery{
			After: after,
			Limit: int(limit),
		})
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusOK, messages)
	}
}

// PostChatHandler sends a message from the acting user. It takes the same
// path as a socket sendMessage event.
func PostChatHandler(rl *relay.Relay) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Receiver string `json:"receiver"`
			Message  string `json:"message"`
		}
		if err := helpers.DecodeJSON(r, &payload); err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		msg, err := rl.Send(r.Context(), actingUser(r), payload.Receiver, payload.Message)
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}
		helpers.WriteJSON(w, http.StatusCreated, msg)
	}
}
