// Package router wires the six resource operations onto chi routes and
// handles content negotiation, caching, and error rendering.
package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/engine"
	"github.com/strata-api/strata/internal/engine/access"
	"github.com/strata-api/strata/internal/engine/apierr"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/write"
	"github.com/strata-api/strata/internal/jsonapi"
	"github.com/strata-api/strata/internal/web/cache"
	"github.com/strata-api/strata/internal/web/query"
	"github.com/strata-api/strata/internal/web/response"
)

// Router serves the resource endpoints.
type Router struct {
	engine *engine.Engine
	cache  cache.ResponseCache
	log    *zap.Logger
}

// Option configures the router.
type Option func(*Router)

// WithCache enables the Redis response cache for GET requests.
func WithCache(c cache.ResponseCache) Option {
	return func(rt *Router) { rt.cache = c }
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(rt *Router) { rt.log = log }
}

// New builds a router over an engine.
func New(eng *engine.Engine, opts ...Option) *Router {
	rt := &Router{engine: eng, log: zap.NewNop()}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler mounts every registered resource under its collection path.
func (rt *Router) Handler(middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	for _, mw := range middlewares {
		r.Use(mw)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.WriteNotFound(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.WriteMethodNotAllowed(w)
	})

	r.Route("/{type}", func(r chi.Router) {
		r.Get("/", rt.handleQuery)
		r.Post("/", rt.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", rt.handleGet)
			r.Put("/", rt.handleReplace)
			r.Patch("/", rt.handleUpdate)
			r.Delete("/", rt.handleDelete)
		})
	})
	return r
}

func (rt *Router) handleQuery(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	auth := access.AuthFromContext(r.Context())

	if body, ok := rt.cacheGet(r, auth); ok {
		rt.writeCached(w, body)
		return
	}

	result, err := rt.engine.Query(r.Context(), typeName, query.Parse(r), auth, nil)
	if err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	result.Document.Links = response.BuildPaginationLinks(
		r.URL.Path, result.Limit, result.Offset, result.Total)

	rt.writeAndCache(w, r, auth, http.StatusOK, result.Document)
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	auth := access.AuthFromContext(r.Context())

	if body, ok := rt.cacheGet(r, auth); ok {
		rt.writeCached(w, body)
		return
	}

	doc, err := rt.engine.Get(r.Context(), typeName, chi.URLParam(r, "id"), query.Parse(r), auth, nil)
	if err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	rt.writeAndCache(w, r, auth, http.StatusOK, doc)
}

func (rt *Router) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.writeRequest(w, r)
	if !ok {
		return
	}
	resp, err := rt.engine.Create(r.Context(), req)
	if err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	rt.invalidate(r.Context(), req.Resource)
	if resp.Document == nil {
		w.Header().Set("Location", r.URL.Path+"/"+resp.ID)
		response.WriteNoContent(w)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+resp.ID)
	_ = response.WriteDocument(w, http.StatusCreated, resp.Document)
}

func (rt *Router) handleReplace(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.writeRequest(w, r)
	if !ok {
		return
	}
	resp, err := rt.engine.Replace(r.Context(), req)
	if err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	rt.invalidate(r.Context(), req.Resource)
	if resp.Document == nil {
		response.WriteNoContent(w)
		return
	}
	_ = response.WriteDocument(w, http.StatusOK, resp.Document)
}

func (rt *Router) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.writeRequest(w, r)
	if !ok {
		return
	}
	resp, err := rt.engine.Update(r.Context(), req)
	if err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	rt.invalidate(r.Context(), req.Resource)
	if resp.Document == nil {
		response.WriteNoContent(w)
		return
	}
	_ = response.WriteDocument(w, http.StatusOK, resp.Document)
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	typeName := chi.URLParam(r, "type")
	req := &write.Request{
		Resource: typeName,
		ID:       chi.URLParam(r, "id"),
		Auth:     access.AuthFromContext(r.Context()),
	}
	if _, err := rt.engine.Delete(r.Context(), req); err != nil {
		response.WriteError(w, rt.log, err)
		return
	}
	rt.invalidate(r.Context(), typeName)
	response.WriteNoContent(w)
}

// writeRequest negotiates content, decodes the body, and assembles the
// coordinator request.
func (rt *Router) writeRequest(w http.ResponseWriter, r *http.Request) (*write.Request, bool) {
	if !response.AcceptsJSONAPI(r) {
		response.WriteUnsupportedMediaType(w)
		return nil, false
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		response.WriteError(w, rt.log, apierr.PayloadShape("unreadable request body"))
		return nil, false
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		response.WriteError(w, rt.log, apierr.PayloadShape("request body is not valid JSON"))
		return nil, false
	}

	req := &write.Request{
		Resource: chi.URLParam(r, "type"),
		ID:       chi.URLParam(r, "id"),
		Body:     body,
		Params:   query.Parse(r),
		Auth:     access.AuthFromContext(r.Context()),
	}
	if v := r.URL.Query().Get("return"); v != "" {
		mode, err := schema.ParseReturnMode(v)
		if err != nil {
			response.WriteError(w, rt.log, err)
			return nil, false
		}
		req.Return = &mode
	}
	return req, true
}

// cacheKey scopes cached responses to the caller so authorized responses
// never leak across subjects.
func cacheKey(r *http.Request, auth access.Auth) string {
	return auth.Subject + "|" + r.URL.RequestURI()
}

func (rt *Router) cacheGet(r *http.Request, auth access.Auth) ([]byte, bool) {
	if rt.cache == nil {
		return nil, false
	}
	body, ok, err := rt.cache.Get(r.Context(), cacheKey(r, auth))
	if err != nil {
		rt.log.Warn("cache read failed", zap.Error(err))
		return nil, false
	}
	return body, ok
}

func (rt *Router) writeCached(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", jsonapi.MediaType)
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeAndCache renders the document and registers the body against every
// type it contains.
func (rt *Router) writeAndCache(w http.ResponseWriter, r *http.Request, auth access.Auth, status int, doc *jsonapi.Document) {
	if rt.cache == nil {
		_ = response.WriteDocument(w, status, doc)
		return
	}
	body, err := json.Marshal(doc)
	if err != nil {
		response.WriteError(w, rt.log, apierr.Internal(err))
		return
	}
	if err := rt.cache.Set(r.Context(), cacheKey(r, auth), documentTypes(r, doc), body); err != nil {
		rt.log.Warn("cache write failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", jsonapi.MediaType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// documentTypes collects every resource type a response touches.
func documentTypes(r *http.Request, doc *jsonapi.Document) []string {
	seen := map[string]bool{chi.URLParam(r, "type"): true}
	for _, res := range doc.Many {
		seen[res.Type] = true
	}
	if doc.One != nil {
		seen[doc.One.Type] = true
	}
	for _, res := range doc.Included {
		seen[res.Type] = true
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	return types
}

// invalidate drops every cached response that touched the written type.
func (rt *Router) invalidate(ctx context.Context, typeName string) {
	if rt.cache == nil {
		return
	}
	if err := rt.cache.Invalidate(ctx, typeName); err != nil {
		rt.log.Warn("cache invalidation failed",
			zap.String("type", typeName), zap.Error(err))
	}
}
