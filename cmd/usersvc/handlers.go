package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/observe"
	"github.com/jonwraymond/reqcache/resilience"
)

const (
	headerCache     = "X-Cache"
	headerCacheHits = "X-Cache-Hits"
)

type userHandlers struct {
	users  *userService
	logger observe.Logger
}

func (h *userHandlers) routes(r chi.Router) {
	r.Post("/users", h.create)
	r.Get("/users", h.getByEmail)
	r.Post("/users/lookup", h.lookup)
	r.Get("/users/{id}", h.get)
	r.Put("/users/{id}", h.rename)
	r.Put("/users/{id}/profile", h.changeEmail)
}

func cacheStatus(fromCache bool) string {
	if fromCache {
		return "HIT"
	}
	return "MISS"
}

func (h *userHandlers) create(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.ID == "" {
		h.fail(w, r, http.StatusBadRequest, errors.New("body must be a user with an id"))
		return
	}
	u.Profile.Email = strings.ToLower(u.Profile.Email)

	if err := h.users.createUser.Call(r.Context(), cache.A("user", &u)); err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *userHandlers) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.users.getByID.CallResult(r.Context(), cache.A("id", chi.URLParam(r, "id")))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set(headerCache, cacheStatus(res.FromCache))
	writeJSON(w, http.StatusOK, res.Value)
}

func (h *userHandlers) getByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.fail(w, r, http.StatusBadRequest, errors.New("email query parameter is required"))
		return
	}
	res, err := h.users.getByEmail.CallResult(r.Context(), cache.A("email", email))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set(headerCache, cacheStatus(res.FromCache))
	writeJSON(w, http.StatusOK, res.Value)
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

type lookupItem struct {
	User   *User  `json:"user,omitempty"`
	Error  string `json:"error,omitempty"`
	Cached bool   `json:"cached"`
}

// lookup resolves several ids in one request; repeated ids are served from
// the request scope.
func (h *userHandlers) lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}

	hits := 0
	items := make([]lookupItem, 0, len(req.IDs))
	for _, id := range req.IDs {
		res, err := h.users.getByID.CallResult(r.Context(), cache.A("id", id))
		if err != nil {
			items = append(items, lookupItem{Error: err.Error()})
			continue
		}
		if res.FromCache {
			hits++
		}
		u := res.Value
		items = append(items, lookupItem{User: &u, Cached: res.FromCache})
	}

	w.Header().Set(headerCacheHits, strconv.Itoa(hits))
	writeJSON(w, http.StatusOK, items)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *userHandlers) rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	current, err := h.users.getByID.Call(ctx, cache.A("id", id))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	current.Name = req.Name
	if err := h.users.rename(ctx, &current); err != nil {
		h.respondErr(w, r, err)
		return
	}

	res, err := h.users.getByID.CallResult(ctx, cache.A("id", id))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set(headerCache, cacheStatus(res.FromCache))
	writeJSON(w, http.StatusOK, res.Value)
}

type profileRequest struct {
	Email string `json:"email"`
}

func (h *userHandlers) changeEmail(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.fail(w, r, http.StatusBadRequest, errors.New("body must carry an email"))
		return
	}
	ctx := r.Context()
	email := strings.ToLower(req.Email)

	current, err := h.users.getByID.Call(ctx, cache.A("id", chi.URLParam(r, "id")))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if err := h.users.changeEmail(ctx, &current, email); err != nil {
		h.respondErr(w, r, err)
		return
	}

	res, err := h.users.getByEmail.CallResult(ctx, cache.A("email", email))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set(headerCache, cacheStatus(res.FromCache))
	writeJSON(w, http.StatusOK, res.Value)
}

func statusFor(err error) int {
	var cerr *cache.CachingError
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errConflict):
		return http.StatusConflict
	case errors.As(err, &cerr):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, resilience.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *userHandlers) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(w, r, statusFor(err), err)
}

func (h *userHandlers) fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed",
			observe.Field{Key: "path", Value: r.URL.Path},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
