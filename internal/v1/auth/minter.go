package auth

import (
	"fmt"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/protocol"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Minter issues bearer credentials for the token endpoint. Validation of the
// resulting tokens is handled by Validator; the two share the key pair.
type Minter struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
}

// NewMinter creates a Minter. ttl bounds token lifetime; zero means one hour.
func NewMinter(apiKey, apiSecret string, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Minter{apiKey: apiKey, apiSecret: []byte(apiSecret), ttl: ttl}
}

// MintRequest carries the caller-supplied token parameters.
type MintRequest struct {
	Identity    string         `json:"identity"`
	DisplayName string         `json:"displayName,omitempty"`
	Room        string         `json:"room,omitempty"`
	Metadata    types.Metadata `json:"metadata,omitempty"`
	Grants      *VideoGrant    `json:"grants,omitempty"`
}

// Mint signs a token for the request and returns it with its expiry.
// Grants default to join-only.
func (m *Minter) Mint(req MintRequest) (string, time.Time, error) {
	if !protocol.ValidIdentity(req.Identity) {
		return "", time.Time{}, fmt.Errorf("identity must be 1..%d bytes", protocol.MaxIdentityBytes)
	}
	if req.Room != "" && !protocol.ValidRoomName(req.Room) {
		return "", time.Time{}, fmt.Errorf("invalid room name %q", req.Room)
	}

	grant := req.Grants
	if grant == nil {
		grant = &VideoGrant{RoomJoin: true}
	}
	if req.Room != "" && grant.Room == "" {
		grant.Room = req.Room
	}

	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		Name:     req.DisplayName,
		Metadata: req.Metadata,
		Video:    grant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   req.Identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.apiKey
	signed, err := token.SignedString(m.apiSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}
