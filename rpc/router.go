// server/rpc/router.go
package rpc

import (
	"encoding/json"
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/vinizap/haku/server/domain"
)

// Guard authorizes a call before its input is decoded. A nil Guard allows
// every caller.
type Guard func(c *fiber.Ctx) error

type procedure struct {
	guard Guard
	call  func(c *fiber.Ctx, input json.RawMessage) (interface{}, error)
}

// Router dispatches POST /rpc/:procedure calls. Requests carry
// {"input": ...} and successful responses are {"result": ...}.
type Router struct {
	procs map[string]procedure
}

func NewRouter() *Router {
	return &Router{procs: make(map[string]procedure)}
}

// Handle registers a typed procedure. The input is decoded into In and
// validated with its struct tags before fn runs. Registering a name twice
// panics.
func Handle[In, Out any](r *Router, name string, guard Guard, fn func(c *fiber.Ctx, in In) (Out, error)) {
	if _, dup := r.procs[name]; dup {
		panic("rpc: duplicate procedure " + name)
	}
	r.procs[name] = procedure{
		guard: guard,
		call: func(c *fiber.Ctx, input json.RawMessage) (interface{}, error) {
			var in In
			if len(input) > 0 && string(input) != "null" {
				if err := json.Unmarshal(input, &in); err != nil {
					return nil, domain.ValidationError{Field: "input", Reason: err.Error()}
				}
			}
			if err := Validate(in); err != nil {
				return nil, err
			}
			return fn(c, in)
		},
	}
}

// Procedures lists the registered names in order.
func (r *Router) Procedures() []string {
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Mount(app fiber.Router) {
	app.Post("/rpc/:procedure", r.serve)
}

func (r *Router) serve(c *fiber.Ctx) error {
	name := c.Params("procedure")
	p, ok := r.procs[name]
	if !ok {
		return domain.NotFoundError{Kind: "procedure", ID: name}
	}
	if p.guard != nil {
		if err := p.guard(c); err != nil {
			return err
		}
	}

	var req struct {
		Input json.RawMessage `json:"input"`
	}
	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return domain.ValidationError{Field: "body", Reason: "malformed JSON"}
		}
	}
	out, err := p.call(c, req.Input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"result": out})
}
