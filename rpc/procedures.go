// server/rpc/procedures.go
package rpc

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
)

type EmailInput struct {
	Email string `json:"email" validate:"required,email"`
}

type IDInput struct {
	ID string `json:"id" validate:"required"`
}

// Register installs the procedures served over /rpc.
func Register(r *Router, s store.Store, adminKeyHash []byte) {
	authed := func(c *fiber.Ctx) error { return auth.Authenticate(c, s) }
	admin := func(c *fiber.Ctx) error { return auth.Admin(c, adminKeyHash) }

	Handle(r, "file.list", authed, func(c *fiber.Ctx, _ struct{}) ([]domain.ContentItem, error) {
		return s.Files(c.UserContext(), auth.UserID(c))
	})
	Handle(r, "history.history", authed, func(c *fiber.Ctx, _ struct{}) ([]domain.HistoryEntry, error) {
		return s.History(c.UserContext(), auth.UserID(c))
	})

	Handle(r, "admin.email.list", admin, func(c *fiber.Ctx, _ struct{}) ([]domain.AllowedEmail, error) {
		return s.AllowedEmails(c.UserContext())
	})
	Handle(r, "admin.email.add", admin, func(c *fiber.Ctx, in EmailInput) (domain.AllowedEmail, error) {
		return s.AddAllowedEmail(c.UserContext(), in.Email)
	})
	Handle(r, "admin.email.delete", admin, func(c *fiber.Ctx, in IDInput) (IDInput, error) {
		return in, s.DeleteAllowedEmail(c.UserContext(), in.ID)
	})
}
