package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Roles recognized on the admin surface.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Claims are the only supported JWT claims shape for this service.
// UserID scopes campaign and call-state operations; Role gates the
// administrative endpoints (reset-call-state is admin-only).
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
