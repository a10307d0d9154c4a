package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	Email   string
	Name    string
	IsDemo  bool
	TokenID string
}

// AccessTokenClaims is the typed JWT presented by app clients.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Name   string    `json:"name,omitempty"`
	IsDemo bool      `json:"is_demo,omitempty"`
	jwt.RegisteredClaims
}
