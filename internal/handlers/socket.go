package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/auth"
	"github.com/charlieegan3/social-relay/internal/helpers"
	"github.com/charlieegan3/social-relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SocketHandler verifies the credential presented on the handshake, from
// the Authorization header or the token query parameter, and only then
// upgrades the connection and binds it to the verified user.
func SocketHandler(authn *auth.Authenticator, rl *relay.Relay, buffer int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := socketIdentity(r, authn)
		if err != nil {
			helpers.WriteError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SocketHandler",
				"user":     identity.UserID,
				"error":    err,
			}).Warn("WebSocket upgrade failed")
			return
		}

		relay.NewClient(conn, identity, rl, buffer).Serve()
	}
}

func socketIdentity(r *http.Request, authn *auth.Authenticator) (auth.Identity, error) {
	if r.Header.Get("Authorization") != "" {
		return helpers.AuthnUser(&r.Header, authn)
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		return auth.Identity{}, apperr.Authentication("missing credential")
	}
	return authn.Verify(token)
}
