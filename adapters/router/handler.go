package annotaterouter

import (
	"github.com/goliatone/go-annotate/adapters/annotateapi"
	"github.com/goliatone/go-annotate/annotate"
	"github.com/goliatone/go-router"
)

// Config configures the go-router adapter.
type Config = annotateapi.Config

// Handler exposes session routes for go-router.
type Handler struct {
	controller *annotateapi.Controller
}

// NewHandler creates a go-router handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{controller: annotateapi.NewController(cfg)}
}

// RegisterRoutes registers routes on a compatible go-router router.
func (h *Handler) RegisterRoutes(router any) {
	r, ok := router.(routeRegistrar)
	if !ok {
		return
	}
	base := h.basePath()

	r.Post(base, h.Handle)
	r.Post(base+"/", h.Handle)
	r.Get(base+"/:id", h.Handle)
	r.Delete(base+"/:id", h.Handle)
	for _, action := range []string{"file", "page", "selection", "marks", "signing", "pointer", "export"} {
		r.Post(base+"/:id/"+action, h.Handle)
	}
	r.Delete(base+"/:id/strokes", h.Handle)
	r.Get(base+"/:id/pages/:page/instructions", h.Handle)
	r.Get(base+"/:id/pages/:page/overlay", h.Handle)
	r.Get(base+"/:id/exports", h.Handle)
	r.Get(base+"/:id/exports/:export/download", h.Handle)
}

// Handle executes the shared session workflow.
func (h *Handler) Handle(c router.Context) error {
	if c == nil {
		return nil
	}
	if h == nil || h.controller == nil {
		annotateapi.WriteError(routerResponse{ctx: c}, annotate.NewError(annotate.KindInternal, "handler is nil", nil))
		return nil
	}
	h.controller.Serve(routerRequest{ctx: c}, routerResponse{ctx: c})
	return nil
}

func (h *Handler) basePath() string {
	if h == nil || h.controller == nil {
		return annotateapi.DefaultBasePath
	}
	path := h.controller.BasePath()
	if path == "" {
		return annotateapi.DefaultBasePath
	}
	return path
}

type routeRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}
