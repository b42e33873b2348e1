package annotatehttp

import (
	"net/http"

	"github.com/goliatone/go-annotate/adapters/annotateapi"
	"github.com/goliatone/go-annotate/annotate"
)

// Config configures the HTTP adapter.
type Config = annotateapi.Config

// Handler exposes annotate HTTP endpoints.
type Handler struct {
	controller *annotateapi.Controller
}

// NewHandler creates a new HTTP handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{controller: annotateapi.NewController(cfg)}
}

// RegisterRoutes registers handlers on a compatible router.
func (h *Handler) RegisterRoutes(router any) {
	switch r := router.(type) {
	case interface{ Handle(string, http.Handler) }:
		r.Handle(h.basePath(), h)
		r.Handle(h.basePath()+"/", h)
	case interface {
		HandleFunc(string, func(http.ResponseWriter, *http.Request))
	}:
		r.HandleFunc(h.basePath(), h.ServeHTTP)
		r.HandleFunc(h.basePath()+"/", h.ServeHTTP)
	}
}

// ServeHTTP routes session endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if w == nil {
		return
	}
	if h == nil || h.controller == nil {
		annotateapi.WriteError(httpResponse{w: w}, annotate.NewError(annotate.KindInternal, "handler is nil", nil))
		return
	}
	h.controller.Serve(httpRequest{r: r}, httpResponse{w: w})
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
