// server/client/api.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vinizap/haku/server/domain"
)

const (
	defaultTimeout = 10 * time.Second
	originHeader   = "X-Haku-Origin"
)

// ItemPatch and FolderPatch leave nil fields unchanged.
type ItemPatch struct {
	Name     *string `json:"name,omitempty"`
	FolderID *string `json:"folder_id,omitempty"`
	Body     *string `json:"body,omitempty"`
}

type FolderPatch struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

type NewNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Index    int    `json:"index"`
	Content  string `json:"content"`
}

type NodePatch struct {
	Content   *string        `json:"content,omitempty"`
	Status    *domain.Status `json:"status,omitempty"`
	Collapsed *bool          `json:"collapsed,omitempty"`
}

// API talks to a haku server over HTTP. Failures are classified into the
// domain error taxonomy; only NetworkError is worth retrying.
type API struct {
	baseURL string
	token   string
	origin  string
	timeout time.Duration
}

// NewAPI returns a client for baseURL that authenticates with token. origin
// identifies this session in live events.
func NewAPI(baseURL, token, origin string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		origin:  origin,
		timeout: defaultTimeout,
	}
}

func (a *API) Origin() string { return a.origin }

func (a *API) Files(ctx context.Context) ([]domain.ContentItem, error) {
	var out []domain.ContentItem
	return out, a.do(ctx, fiber.MethodGet, "/files", nil, &out)
}

func (a *API) Folders(ctx context.Context, t domain.ContentType) ([]domain.Folder, error) {
	var out []domain.Folder
	return out, a.do(ctx, fiber.MethodGet, "/folders?type="+url.QueryEscape(string(t)), nil, &out)
}

func (a *API) TodoNodes(ctx context.Context, todoID string) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	return out, a.do(ctx, fiber.MethodGet, "/todos/"+url.PathEscape(todoID), nil, &out)
}

func (a *API) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	return out, a.do(ctx, fiber.MethodGet, "/history", nil, &out)
}

func (a *API) RecordVisit(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	return out, a.do(ctx, fiber.MethodPost, "/history", map[string]string{"id": id}, &out)
}

func (a *API) UpdateItem(ctx context.Context, t domain.ContentType, id string, patch ItemPatch) (domain.ContentItem, error) {
	var out domain.ContentItem
	path := domain.Match(t,
		func() string { return "/notes/" + url.PathEscape(id) },
		func() string { return "/todos/" + url.PathEscape(id) },
	)
	return out, a.do(ctx, fiber.MethodPatch, path, patch, &out)
}

func (a *API) DeleteItem(ctx context.Context, t domain.ContentType, id string) error {
	path := domain.Match(t,
		func() string { return "/notes/" + url.PathEscape(id) },
		func() string { return "/todos/" + url.PathEscape(id) },
	)
	return a.do(ctx, fiber.MethodDelete, path, nil, nil)
}

func (a *API) UpdateFolder(ctx context.Context, id string, patch FolderPatch) (domain.Folder, error) {
	var out domain.Folder
	return out, a.do(ctx, fiber.MethodPatch, "/folders/"+url.PathEscape(id), patch, &out)
}

func (a *API) AddNode(ctx context.Context, todoID string, n NewNode) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	return out, a.do(ctx, fiber.MethodPost, a.nodesPath(todoID), n, &out)
}

func (a *API) UpdateNode(ctx context.Context, todoID, nodeID string, patch NodePatch) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	return out, a.do(ctx, fiber.MethodPatch, a.nodesPath(todoID)+"/"+url.PathEscape(nodeID), patch, &out)
}

func (a *API) MoveNode(ctx context.Context, todoID, nodeID, parentID string, index int) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	body := map[string]interface{}{"parent_id": parentID, "index": index}
	return out, a.do(ctx, fiber.MethodPost, a.nodesPath(todoID)+"/"+url.PathEscape(nodeID)+"/move", body, &out)
}

func (a *API) DeleteNode(ctx context.Context, todoID, nodeID string) ([]domain.TodoNode, error) {
	var out []domain.TodoNode
	return out, a.do(ctx, fiber.MethodDelete, a.nodesPath(todoID)+"/"+url.PathEscape(nodeID), nil, &out)
}

func (a *API) nodesPath(todoID string) string {
	return "/todos/" + url.PathEscape(todoID) + "/nodes"
}

func (a *API) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := method + " " + path
	if err := ctx.Err(); err != nil {
		return domain.NetworkError{Op: op, Err: err}
	}

	agent := fiber.AcquireAgent()
	req := agent.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(a.baseURL + path)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if a.token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+a.token)
	}
	if a.origin != "" {
		agent.Set(originHeader, a.origin)
	}
	if in != nil {
		agent.JSON(in)
	}
	timeout := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return fmt.Errorf("%s: %w", op, err)
	}

	// Bytes releases the agent.
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return domain.NetworkError{Op: op, Err: errors.Join(errs...)}
	}
	if err := classify(op, path, code, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 || code == fiber.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// classify maps an HTTP status to the domain error taxonomy.
func classify(op, path string, code int, body []byte) error {
	if code < fiber.StatusBadRequest {
		return nil
	}
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = fmt.Sprintf("status %d", code)
	}

	switch {
	case code >= fiber.StatusInternalServerError:
		return domain.NetworkError{Op: op, Err: fmt.Errorf("server error %d: %s", code, msg)}
	case code == fiber.StatusBadRequest:
		return domain.ValidationError{Reason: msg}
	case code == fiber.StatusUnauthorized, code == fiber.StatusForbidden:
		return domain.AuthorizationError{Reason: msg}
	case code == fiber.StatusNotFound:
		return domain.NotFoundError{Kind: "resource", ID: path}
	case code == fiber.StatusConflict:
		return domain.IntegrityError{Reason: msg}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", op, code, msg)
	}
}
