// server/http/server.go
package http

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/vinizap/haku/server/auth"
	"github.com/vinizap/haku/server/domain"
	"github.com/vinizap/haku/server/rpc"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/ws"
)

// OriginHeader carries the client session ID that is echoed in live events.
const OriginHeader = "X-Haku-Origin"

type Server struct {
	store        store.Store
	hub          *ws.Hub
	adminKeyHash []byte
	log          zerolog.Logger
}

func NewServer(st store.Store, hub *ws.Hub, adminKeyHash []byte, log zerolog.Logger) *Server {
	return &Server{store: st, hub: hub, adminKeyHash: adminKeyHash, log: log}
}

// App builds the fiber application with every route installed.
func (s *Server) App(corsOrigins []string) *fiber.App {
	// Immutable: params and headers outlive the request in todo trees and
	// hub events.
	app := fiber.New(fiber.Config{
		AppName:               "haku",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(s.log),
		Immutable:             true,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(RequestLogger(s.log))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(corsOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + auth.AdminKeyHeader + ", " + OriginHeader,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowCredentials: !slices.Contains(corsOrigins, "*"),
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authed := auth.WithAuth(s.store)
	admin := auth.WithAdmin(s.adminKeyHash)

	app.Get("/files", authed, s.HandleFiles)

	app.Get("/history", authed, s.HandleHistory)
	app.Post("/history", authed, s.HandleRecordVisit)

	app.Get("/inbox", authed, s.HandleInbox)
	app.Post("/inbox", authed, s.HandleCreateInboxEntry)
	app.Delete("/inbox/:id", authed, s.HandleDeleteInboxEntry)
	app.Post("/inbox/:id/promote", authed, s.HandlePromoteInboxEntry)

	app.Get("/notes", authed, s.HandleNoteTree)
	app.Post("/notes", authed, s.HandleCreateNote)
	app.Get("/notes/:id", authed, s.HandleGetNote)
	app.Patch("/notes/:id", authed, s.HandleUpdateNote)
	app.Delete("/notes/:id", authed, s.HandleDeleteNote)

	app.Get("/todos", authed, s.HandleTodoTree)
	app.Post("/todos", authed, s.HandleCreateTodo)
	app.Get("/todos/:id", authed, s.HandleGetTodo)
	app.Patch("/todos/:id", authed, s.HandleUpdateTodo)
	app.Delete("/todos/:id", authed, s.HandleDeleteTodo)
	app.Post("/todos/:id/nodes", authed, s.HandleAddNode)
	app.Patch("/todos/:id/nodes/:nodeId", authed, s.HandleUpdateNode)
	app.Post("/todos/:id/nodes/:nodeId/move", authed, s.HandleMoveNode)
	app.Delete("/todos/:id/nodes/:nodeId", authed, s.HandleDeleteNode)

	app.Get("/folders", authed, s.HandleListFolders)
	app.Post("/folders", authed, s.HandleCreateFolder)
	app.Patch("/folders/:id", authed, s.HandleUpdateFolder)
	app.Delete("/folders/:id", authed, s.HandleDeleteFolder)

	app.Get("/admin/email", admin, s.HandleListEmails)
	app.Post("/admin/email", admin, s.HandleAddEmail)
	app.Delete("/admin/email/:id", admin, s.HandleDeleteEmail)

	router := rpc.NewRouter()
	rpc.Register(router, s.store, s.adminKeyHash)
	router.Mount(app)

	app.Get("/ws", authed, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, websocket.New(s.HandleWebSocket))

	return app
}

func (s *Server) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals(auth.LocalUserID).(string)
	if userID == "" || s.hub == nil {
		conn.Close()
		return
	}
	s.hub.HandleConnection(userID, conn)
}

// notify tells the caller's other sessions about a change.
func (s *Server) notify(c *fiber.Ctx, eventType, id string) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(auth.UserID(c), ws.Event{Type: eventType, ID: id, Origin: c.Get(OriginHeader)})
}

// decode reads a JSON body into v and validates it. An empty body decodes to
// the zero value.
func decode(c *fiber.Ctx, v interface{}) error {
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return domain.ValidationError{Field: "body", Reason: "malformed JSON"}
		}
	}
	return rpc.Validate(v)
}
