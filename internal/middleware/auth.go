package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/panelcast/internal/auth"
	"github.com/makeasinger/panelcast/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier   auth.TokenVerifier
	allowQuery bool
}

// NewAuthMiddleware authenticates bearer tokens with verifier
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// WithQueryToken also accepts ?token= for clients that cannot set headers
// on a websocket upgrade.
func (m *AuthMiddleware) WithQueryToken() *AuthMiddleware {
	return &AuthMiddleware{verifier: m.verifier, allowQuery: true}
}

// Authenticate validates the JWT token and stores the identity in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, msg := m.token(c)
		if tokenString == "" {
			return response.Unauthorized(c, msg)
		}

		id, err := m.verifier.Validate(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrNoVerifier) {
				return response.Unauthorized(c, "Authentication not configured")
			}
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id.UserID, id.Email, id.Name)
		return c.Next()
	}
}

func (m *AuthMiddleware) token(c *fiber.Ctx) (string, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if m.allowQuery {
			if t := c.Query("token"); t != "" {
				return t, ""
			}
		}
		return "", "Missing authorization header"
	}

	token, ok := BearerToken(authHeader)
	if !ok {
		return "", "Invalid authorization header format"
	}
	return token, ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setIdentity(c *fiber.Ctx, userID, email, name string) {
	c.Locals("userId", userID)
	c.Locals("email", email)
	c.Locals("name", name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
