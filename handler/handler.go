// Package handler provides the HTTP handlers for the mock server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stevemurr/json-mock-server/ctxlog"
	"github.com/stevemurr/json-mock-server/document"
	"github.com/stevemurr/json-mock-server/store"
)

// DefaultMaxBodyBytes caps request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// Options configures a Handler.
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Handler holds the registry and routes REST verbs to it.
type Handler struct {
	reg     *store.Registry
	mux     *http.ServeMux
	opts    Options
	handler http.Handler
}

// New creates a Handler and wires up all routes.
func New(reg *store.Registry, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &Handler{reg: reg, mux: http.NewServeMux(), opts: opts}
	h.routes()
	h.handler = requestLogger(corsMiddleware(h.mux, opts.AllowedOrigins), opts.Logger)
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /_health", h.health)

	h.mux.HandleFunc("GET /{name}", h.getDocument)
	h.mux.HandleFunc("GET /{name}/{id}", h.getItem)
	h.mux.HandleFunc("POST /{name}", h.createItem)
	h.mux.HandleFunc("PUT /{name}", h.replaceDocument)
	h.mux.HandleFunc("PUT /{name}/{id}", h.replaceItem)
	h.mux.HandleFunc("PATCH /{name}", h.patchDocument)
	h.mux.HandleFunc("PATCH /{name}/{id}", h.patchItem)
	h.mux.HandleFunc("DELETE /{name}/{id}", h.deleteItem)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEmpty(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]any{})
}

func writeError(w http.ResponseWriter, status int, msg string, data any) {
	body := map[string]any{"error": msg}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, status, body)
}

// readJSON decodes exactly one JSON value from the request body, keeping
// numbers as json.Number.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request) (any, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	return document.Decode(b)
}

// withBody decodes the body and hands it to fn, answering 400 on bad JSON.
func (h *Handler) withBody(fn func(w http.ResponseWriter, r *http.Request, body any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := h.readJSON(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, err.Error(), nil)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), nil)
			return
		}
		fn(w, r, body)
	}
}

// writeResult maps a registry error to a response. shapeStatus is the status
// used when the document has the wrong shape for the endpoint.
func writeResult(w http.ResponseWriter, r *http.Request, result any, err error, shapeStatus int) {
	logger := ctxlog.FromContext(r.Context())

	var conflict *store.ConflictError
	var persist *store.PersistError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, store.ErrNotFound):
		logger.Debug("resource not found", "err", err)
		writeEmpty(w, http.StatusNotFound)
	case errors.Is(err, store.ErrShapeMismatch):
		logger.Debug("document shape mismatch", "err", err)
		writeEmpty(w, shapeStatus)
	case errors.Is(err, store.ErrInvalidBody):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &conflict):
		logger.Info("rejected duplicate id", "collection", conflict.Collection, "id", conflict.ID.String())
		writeError(w, http.StatusInternalServerError, "Insert failed, duplicate id", conflict.Data)
	case errors.As(err, &persist):
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("change kept in memory but not saved: %v", persist.Err), persist.Result)
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "JSON Mock Server",
		"collections": h.reg.Stats(),
	})
}

// health answers liveness checks unless a collection is named "_health",
// in which case that collection is served as usual.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	doc, err := h.reg.Get("_health")
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	writeResult(w, r, doc, err, http.StatusNotFound)
}

// ---------- documents and items ----------

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.reg.Get(r.PathValue("name"))
	writeResult(w, r, doc, err, http.StatusNotFound)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.reg.GetItem(r.PathValue("name"), r.PathValue("id"))
	writeResult(w, r, item, err, http.StatusNotFound)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	h.withBody(func(w http.ResponseWriter, r *http.Request, body any) {
		out, err := h.reg.Create(r.PathValue("name"), body)
		writeResult(w, r, out, err, http.StatusNotFound)
	})(w, r)
}

func (h *Handler) replaceDocument(w http.ResponseWriter, r *http.Request) {
	h.withBody(func(w http.ResponseWriter, r *http.Request, body any) {
		out, err := h.reg.Replace(r.PathValue("name"), body)
		writeResult(w, r, out, err, http.StatusConflict)
	})(w, r)
}

func (h *Handler) replaceItem(w http.ResponseWriter, r *http.Request) {
	h.withBody(func(w http.ResponseWriter, r *http.Request, body any) {
		out, err := h.reg.ReplaceItem(r.PathValue("name"), r.PathValue("id"), body)
		writeResult(w, r, out, err, http.StatusNotFound)
	})(w, r)
}

func (h *Handler) patchDocument(w http.ResponseWriter, r *http.Request) {
	h.withBody(func(w http.ResponseWriter, r *http.Request, body any) {
		out, err := h.reg.Patch(r.PathValue("name"), body)
		writeResult(w, r, out, err, http.StatusConflict)
	})(w, r)
}

func (h *Handler) patchItem(w http.ResponseWriter, r *http.Request) {
	h.withBody(func(w http.ResponseWriter, r *http.Request, body any) {
		out, err := h.reg.PatchItem(r.PathValue("name"), r.PathValue("id"), body)
		writeResult(w, r, out, err, http.StatusNotFound)
	})(w, r)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	err := h.reg.DeleteItem(r.PathValue("name"), r.PathValue("id"))
	writeResult(w, r, map[string]any{}, err, http.StatusNotFound)
}
