// server/http/handlers.go
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/ws"
)

func (s *Server) HandleFiles(c *fiber.Ctx) error {
	files, err := s.store.Files(c.UserContext(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(files)
}

func (s *Server) HandleHistory(c *fiber.Ctx) error {
	entries, err := s.store.History(c.UserContext(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) HandleRecordVisit(c *fiber.Ctx) error {
	var req struct {
		ID string `json:"id" validate:"required"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	entries, err := s.store.RecordVisit(c.UserContext(), auth.UserID(c), req.ID)
	if err != nil {
		return err
	}
	s.notify(c, ws.EventHistoryChanged, req.ID)
	return c.JSON(entries)
}

func (s *Server) HandleInbox(c *fiber.Ctx) error {
	entries, err := s.store.InboxEntries(c.UserContext(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) HandleCreateInboxEntry(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content" validate:"required,max=100000"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	entry, err := s.store.CreateInboxEntry(c.UserContext(), auth.UserID(c), req.Content)
	if err != nil {
		return err
	}
	s.notify(c, ws.EventInboxChanged, entry.ID)
	return c.Status(fiber.StatusCreated).JSON(entry)
}

func (s *Server) HandleDeleteInboxEntry(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.store.DeleteInboxEntry(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	s.notify(c, ws.EventInboxChanged, id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) HandlePromoteInboxEntry(c *fiber.Ctx) error {
	var req struct {
		Name     string `json:"name" validate:"max=255"`
		FolderID string `json:"folder_id"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	id := c.Params("id")
	note, err := s.store.PromoteInboxEntry(c.UserContext(), auth.UserID(c), id, store.Promotion{
		Name:     req.Name,
		FolderID: req.FolderID,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventInboxChanged, id)
	s.notify(c, ws.EventFileChanged, note.ID)
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (s *Server) HandleNoteTree(c *fiber.Ctx) error {
	forest, err := store.NoteTree(c.UserContext(), s.store, auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(forest)
}

func (s *Server) HandleCreateNote(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id" validate:"omitempty,uuid"`
		Name     string `json:"name" validate:"required,max=255"`
		FolderID string `json:"folder_id"`
		Body     string `json:"body"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	note, err := s.store.CreateNote(c.UserContext(), auth.UserID(c), store.NewNote{
		ID:       req.ID,
		Name:     req.Name,
		FolderID: req.FolderID,
		Body:     req.Body,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFileChanged, note.ID)
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (s *Server) HandleGetNote(c *fiber.Ctx) error {
	note, err := s.store.Note(c.UserContext(), auth.UserID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(note)
}

type updateItemRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=255"`
	FolderID *string `json:"folder_id"`
	Body     *string `json:"body"`
}

func (s *Server) HandleUpdateNote(c *fiber.Ctx) error {
	var req updateItemRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	id := c.Params("id")
	if _, err := s.store.Note(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	note, err := s.store.UpdateItem(c.UserContext(), auth.UserID(c), id, store.ItemUpdate{
		Name:   req.Name,
		Folder: req.FolderID,
		Body:   req.Body,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFileChanged, id)
	return c.JSON(note)
}

func (s *Server) HandleDeleteNote(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.Note(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	if err := s.store.DeleteItem(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	s.notify(c, ws.EventFileDeleted, id)
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleListFolders lists the folders of the content type given by ?type=.
func (s *Server) HandleListFolders(c *fiber.Ctx) error {
	t, err := domain.ParseContentType(c.Query("type"))
	if err != nil {
		return err
	}
	folders, err := s.store.Folders(c.UserContext(), auth.UserID(c), t)
	if err != nil {
		return err
	}
	return c.JSON(folders)
}

func (s *Server) HandleCreateFolder(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id" validate:"omitempty,uuid"`
		Name     string `json:"name" validate:"required,max=255"`
		ParentID string `json:"parent_id"`
		Type     string `json:"type" validate:"required"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	t, err := domain.ParseContentType(req.Type)
	if err != nil {
		return err
	}
	folder, err := s.store.CreateFolder(c.UserContext(), auth.UserID(c), store.NewFolder{
		ID:       req.ID,
		Name:     req.Name,
		ParentID: req.ParentID,
		Type:     t,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFolderChanged, folder.ID)
	return c.Status(fiber.StatusCreated).JSON(folder)
}

func (s *Server) HandleUpdateFolder(c *fiber.Ctx) error {
	var req struct {
		Name     *string `json:"name" validate:"omitempty,max=255"`
		ParentID *string `json:"parent_id"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	id := c.Params("id")
	folder, err := s.store.UpdateFolder(c.UserContext(), auth.UserID(c), id, store.FolderUpdate{
		Name:   req.Name,
		Parent: req.ParentID,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFolderChanged, id)
	return c.JSON(folder)
}

func (s *Server) HandleDeleteFolder(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.store.DeleteFolder(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	s.notify(c, ws.EventFolderChanged, id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) HandleListEmails(c *fiber.Ctx) error {
	emails, err := s.store.AllowedEmails(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(emails)
}

func (s *Server) HandleAddEmail(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	email, err := s.store.AddAllowedEmail(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(email)
}

func (s *Server) HandleDeleteEmail(c *fiber.Ctx) error {
	if err := s.store.DeleteAllowedEmail(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
