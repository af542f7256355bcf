package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinizap/haku/server/store"
)

func newApp(t *testing.T, mw fiber.Handler) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.SendStatus(fe.Code)
			}
			return c.SendStatus(fiber.StatusUnauthorized)
		},
	})
	app.Get("/", mw, func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app
}

func TestWithAuth(t *testing.T) {
	sessions := store.NewMemory()
	sessions.AddSession("tok", "u1")
	app := newApp(t, WithAuth(sessions))

	tests := []struct {
		name   string
		header string
		cookie string
		status int
	}{
		{"bearer", "Bearer tok", "", fiber.StatusOK},
		{"lowercase scheme", "bearer tok", "", fiber.StatusOK},
		{"cookie", "", "tok", fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"unknown token", "Bearer nope", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.Header.Set("Cookie", SessionCookie+"="+tt.cookie)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWithAdmin(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)
	app := newApp(t, WithAdmin(hash))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(AdminKeyHeader, "s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(AdminKeyHeader, "guess")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestEmptyAdminKeyDisablesAdmin(t *testing.T) {
	hash, err := HashKey("")
	require.NoError(t, err)
	assert.Nil(t, hash)
	assert.False(t, CheckKey(hash, ""))
	assert.False(t, CheckKey(hash, "anything"))
}
