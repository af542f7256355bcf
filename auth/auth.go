// server/auth/auth.go
package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/vinizap/haku/server/domain"
)

const (
	SessionCookie  = "haku_session"
	AdminKeyHeader = "X-Haku-Admin-Key"

	LocalUserID = "haku.user_id"
)

// Sessions resolves a session token to the owning user.
type Sessions interface {
	Session(ctx context.Context, token string) (string, error)
}

// WithAuth rejects requests without a valid session and stores the user ID
// for UserID.
func WithAuth(sessions Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := Authenticate(c, sessions); err != nil {
			return err
		}
		return c.Next()
	}
}

// Authenticate resolves the request's session without continuing the chain.
func Authenticate(c *fiber.Ctx, sessions Sessions) error {
	token := Token(c)
	if token == "" {
		return domain.AuthorizationError{Reason: "missing session token"}
	}
	userID, err := sessions.Session(c.UserContext(), token)
	if err != nil {
		return err
	}
	c.Locals(LocalUserID, userID)
	return nil
}

// Token returns the bearer token of the request, falling back to the session
// cookie.
func Token(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Cookies(SessionCookie)
}

// UserID returns the user resolved by WithAuth, or "" outside of it.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// HashKey derives the bcrypt hash WithAdmin compares against. An empty key
// yields a nil hash, which disables admin access.
func HashKey(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	return bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
}

// CheckKey reports whether key matches hash.
func CheckKey(hash []byte, key string) bool {
	if len(hash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil
}

// WithAdmin guards admin routes with the admin key header.
func WithAdmin(keyHash []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := Admin(c, keyHash); err != nil {
			return err
		}
		return c.Next()
	}
}

func Admin(c *fiber.Ctx, keyHash []byte) error {
	if !CheckKey(keyHash, c.Get(AdminKeyHeader)) {
		return fiber.NewError(fiber.StatusForbidden, "admin key required")
	}
	return nil
}
