// Package router provides exact-match request routing over normalized
// paths, with correct 404 and 405 responses for everything else.
package router

import (
	"fmt"

	"github.com/yourusername/filament/pkg/filament/http11"
)

// Handler processes a matched request.
type Handler func(*http11.Request, *http11.ResponseWriter) error

// Resolution is the outcome of a route lookup.
type Resolution int

const (
	// Matched means a handler exists for the method and path.
	Matched Resolution = iota

	// NotFound means no route is registered for the path.
	NotFound

	// MethodNotAllowed means the path exists under a different method.
	MethodNotAllowed
)

// Router maps (method, exact path) pairs to handlers. Registration happens
// up front; once serving starts the table is read-only, so lookups need no
// locking.
//
// Paths are matched against the normalized request path, so "/a//b" and
// "/a/b" hit the same route.
type Router struct {
	// routes[path][methodID]
	routes map[string]*methodSet
}

// methodSet holds one handler slot per known method ID.
type methodSet struct {
	handlers [10]Handler
}

// New creates an empty router.
func New() *Router {
	return &Router{
		routes: make(map[string]*methodSet),
	}
}

// Handle registers a handler for the given method and exact path. Panics on
// an unknown method, an unrooted path, or a duplicate registration, since
// all three are programming errors in route setup.
func (r *Router) Handle(method, path string, handler Handler) {
	methodID := http11.ParseMethodID([]byte(method))
	if methodID == http11.MethodUnknown {
		panic(fmt.Sprintf("router: unknown method %q", method))
	}
	if len(path) == 0 || path[0] != '/' {
		panic(fmt.Sprintf("router: path %q must start with /", path))
	}
	if handler == nil {
		panic(fmt.Sprintf("router: nil handler for %s %s", method, path))
	}

	set := r.routes[path]
	if set == nil {
		set = &methodSet{}
		r.routes[path] = set
	}
	if set.handlers[methodID] != nil {
		panic(fmt.Sprintf("router: duplicate route %s %s", method, path))
	}
	set.handlers[methodID] = handler
}

// GET registers a GET handler.
func (r *Router) GET(path string, handler Handler) { r.Handle("GET", path, handler) }

// POST registers a POST handler.
func (r *Router) POST(path string, handler Handler) { r.Handle("POST", path, handler) }

// PUT registers a PUT handler.
func (r *Router) PUT(path string, handler Handler) { r.Handle("PUT", path, handler) }

// DELETE registers a DELETE handler.
func (r *Router) DELETE(path string, handler Handler) { r.Handle("DELETE", path, handler) }

// PATCH registers a PATCH handler.
func (r *Router) PATCH(path string, handler Handler) { r.Handle("PATCH", path, handler) }

// HEAD registers a HEAD handler.
func (r *Router) HEAD(path string, handler Handler) { r.Handle("HEAD", path, handler) }

// OPTIONS registers an OPTIONS handler.
func (r *Router) OPTIONS(path string, handler Handler) { r.Handle("OPTIONS", path, handler) }

// Resolve looks up the handler for a method ID and normalized path.
func (r *Router) Resolve(methodID uint8, normPath string) (Handler, Resolution) {
	set, ok := r.routes[normPath]
	if !ok {
		return nil, NotFound
	}
	if methodID != http11.MethodUnknown {
		if h := set.handlers[methodID]; h != nil {
			return h, Matched
		}
	}
	return nil, MethodNotAllowed
}

// Dispatch resolves and runs the handler for req, writing 404 or 405 when
// nothing matches. A handler panic is recovered into a 500 so one bad
// request cannot take the connection's goroutine down.
func (r *Router) Dispatch(req *http11.Request, rw *http11.ResponseWriter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if !rw.HeaderWritten() {
				rw.WriteError(500, "internal server error")
			}
			err = fmt.Errorf("router: handler panic: %v", rec)
		}
	}()

	handler, res := r.Resolve(req.MethodID, req.NormPath())
	switch res {
	case Matched:
		if handlerErr := handler(req, rw); handlerErr != nil {
			if !rw.HeaderWritten() {
				rw.WriteError(500, "internal server error")
				return nil
			}
			return handlerErr
		}
		return nil
	case MethodNotAllowed:
		return rw.WriteError(405, "method not allowed")
	default:
		return rw.WriteError(404, "not found")
	}
}

// Handler adapts the router to the connection-level handler type.
func (r *Router) Handler() http11.Handler {
	return func(req *http11.Request, rw *http11.ResponseWriter) error {
		return r.Dispatch(req, rw)
	}
}
