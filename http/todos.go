// server/http/todos.go
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/tree"
	"github.com/vinizap/haku/server/ws"
)

func (s *Server) HandleTodoTree(c *fiber.Ctx) error {
	forest, err := store.TodoTree(c.UserContext(), s.store, auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(forest)
}

func (s *Server) HandleCreateTodo(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id" validate:"omitempty,uuid"`
		Name     string `json:"name" validate:"required,max=255"`
		FolderID string `json:"folder_id"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	item, err := s.store.CreateTodo(c.UserContext(), auth.UserID(c), store.NewTodo{
		ID:       req.ID,
		Name:     req.Name,
		FolderID: req.FolderID,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFileChanged, item.ID)
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (s *Server) HandleGetTodo(c *fiber.Ctx) error {
	nodes, err := s.store.TodoNodes(c.UserContext(), auth.UserID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(nodes)
}

// HandleUpdateTodo renames or moves a todo. Todos have no body.
func (s *Server) HandleUpdateTodo(c *fiber.Ctx) error {
	var req updateItemRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if req.Body != nil {
		return domain.ValidationError{Field: "body", Reason: "only notes have a body"}
	}
	id := c.Params("id")
	if _, err := s.store.TodoNodes(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	item, err := s.store.UpdateItem(c.UserContext(), auth.UserID(c), id, store.ItemUpdate{
		Name:   req.Name,
		Folder: req.FolderID,
	})
	if err != nil {
		return err
	}
	s.notify(c, ws.EventFileChanged, id)
	return c.JSON(item.ContentItem)
}

func (s *Server) HandleDeleteTodo(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.TodoNodes(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	if err := s.store.DeleteItem(c.UserContext(), auth.UserID(c), id); err != nil {
		return err
	}
	s.notify(c, ws.EventFileDeleted, id)
	return c.SendStatus(fiber.StatusNoContent)
}

// mutate applies fn to the todo named in the route and responds with the
// resulting nodes.
func (s *Server) mutate(c *fiber.Ctx, fn func(*tree.Todo) error) error {
	todoID := c.Params("id")
	nodes, err := s.store.MutateTodo(c.UserContext(), auth.UserID(c), todoID, fn)
	if err != nil {
		return err
	}
	s.notify(c, ws.EventTodoChanged, todoID)
	return c.JSON(nodes)
}

func (s *Server) HandleAddNode(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id" validate:"required,uuid"`
		ParentID string `json:"parent_id" validate:"required"`
		Index    *int   `json:"index" validate:"omitempty,min=0"`
		Content  string `json:"content"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	return s.mutate(c, func(t *tree.Todo) error {
		index := len(t.Children(req.ParentID))
		if req.Index != nil {
			index = *req.Index
		}
		if err := t.Insert(req.ParentID, req.ID, index); err != nil {
			return err
		}
		return t.SetContent(req.ID, req.Content)
	})
}

func (s *Server) HandleUpdateNode(c *fiber.Ctx) error {
	var req struct {
		Content   *string `json:"content"`
		Status    *string `json:"status" validate:"omitempty,oneof=uncompleted completed"`
		Collapsed *bool   `json:"collapsed"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	nodeID := c.Params("nodeId")
	return s.mutate(c, func(t *tree.Todo) error {
		if !t.Has(nodeID) {
			return domain.NotFoundError{Kind: "todo node", ID: nodeID}
		}
		if req.Content != nil {
			if err := t.SetContent(nodeID, *req.Content); err != nil {
				return err
			}
		}
		if req.Status != nil {
			if err := t.SetStatus(nodeID, domain.Status(*req.Status)); err != nil {
				return err
			}
		}
		if req.Collapsed != nil {
			return t.SetCollapsed(nodeID, *req.Collapsed)
		}
		return nil
	})
}

// HandleMoveNode moves a node to index among its new siblings, counted after
// the node is detached. A slot instead gives the drop position in the
// target's current child list.
func (s *Server) HandleMoveNode(c *fiber.Ctx) error {
	var req struct {
		ParentID string `json:"parent_id" validate:"required"`
		Index    *int   `json:"index" validate:"omitempty,min=0"`
		Slot     *int   `json:"slot" validate:"omitempty,min=0"`
	}
	if err := decode(c, &req); err != nil {
		return err
	}
	if req.Index == nil && req.Slot == nil {
		return domain.ValidationError{Field: "index", Reason: "index or slot is required"}
	}
	nodeID := c.Params("nodeId")
	return s.mutate(c, func(t *tree.Todo) error {
		if req.Slot != nil {
			return t.MoveToSlot(nodeID, req.ParentID, *req.Slot)
		}
		return t.Move(nodeID, req.ParentID, *req.Index)
	})
}

func (s *Server) HandleDeleteNode(c *fiber.Ctx) error {
	nodeID := c.Params("nodeId")
	return s.mutate(c, func(t *tree.Todo) error {
		_, err := t.Remove(nodeID)
		return err
	})
}
