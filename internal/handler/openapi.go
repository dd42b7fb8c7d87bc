package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/roleguard/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document of the roleguard API. The
// document is built once on first request.
type OpenAPIHandler struct {
	opts openapi.Options

	once sync.Once
	doc  *openapi3.T
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	return &OpenAPIHandler{opts: opts}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		opts := h.opts
		if opts.BaseURL == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			opts.BaseURL = scheme + "://" + r.Host
		}
		h.doc = openapi.Generate(opts)
	})
	writeJSON(w, http.StatusOK, h.doc)
}
