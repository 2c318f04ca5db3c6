package auth

import (
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant enumerates what the credential holder may do once validated.
// A nil grant object denies everything.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
	Room           string `json:"room,omitempty"` // optional room-name restriction
}

// Claims is the bearer credential payload. Identity rides in the registered
// Subject claim.
type Claims struct {
	Name     string         `json:"name,omitempty"`
	Metadata types.Metadata `json:"metadata,omitempty"`
	Video    *VideoGrant    `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the application-level user identifier.
func (c *Claims) Identity() types.Identity {
	return types.Identity(c.Subject)
}

// Permissions maps the grant booleans onto the participant permission set.
func (c *Claims) Permissions() types.Permissions {
	if c.Video == nil {
		return types.Permissions{}
	}
	return types.Permissions{
		MayPublish:     c.Video.CanPublish,
		MaySubscribe:   c.Video.CanSubscribe,
		MayPublishData: c.Video.CanPublishData,
	}
}

// AllowsRoom reports whether the grant permits joining the named room.
func (c *Claims) AllowsRoom(room string) bool {
	if c.Video == nil || !c.Video.RoomJoin {
		return false
	}
	return c.Video.Room == "" || c.Video.Room == room
}

// TokenValidator is the narrow authentication port the signaling layer uses.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}
