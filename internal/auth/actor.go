// Package auth carries the already-authorized actor identity through the
// request. Authentication and session issuance live upstream; this layer only
// trusts the identity header the gateway sets.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ActorHeader is set by the upstream auth layer after verifying the caller.
	ActorHeader = "X-Actor-ID"

	ctxActorID = "actor_id"
)

// WithActor rejects requests that arrive without an actor identity and puts
// the identity in the gin context for handlers.
func WithActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actorID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing actor identity"})
			c.Abort()
			return
		}

		c.Set(ctxActorID, actorID)
		c.Next()
	}
}

// ActorID extracts the actor identity set by WithActor.
func ActorID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(ctxActorID))
}
