package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller AuthRequired resolved from the bearer token. The
// zero value is an anonymous caller.
type Identity struct {
	userID uuid.UUID
}

func (i Identity) UserID() uuid.UUID { return i.userID }

func (i Identity) IsAuthenticated() bool { return i.userID != uuid.Nil }

// GetIdentity reads the caller set by AuthRequired.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Identity{}
	}
	uid, _ := raw.(uuid.UUID)
	return Identity{userID: uid}
}

// Actor is the user id recorded on stage history and rule edits, or nil for
// anonymous callers.
func Actor(c *gin.Context) *uuid.UUID {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		return nil
	}
	uid := id.UserID()
	return &uid
}
