package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gridstone/tidewater/internal/entity"
	"github.com/gridstone/tidewater/internal/remote"
)

// Handler serves the sync protocol over JSON/HTTP. One instance wraps
// one Store; it is safe for concurrent use because the Store serializes
// writes through its single SQLite connection.
type Handler struct {
	store  *Store
	logger *slog.Logger
	router *mux.Router
}

// NewHandler builds the HTTP surface over a store. A nil logger falls
// back to slog.Default().
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{store: store, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/scopes/{scope}", h.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/v1/scopes/{scope}", h.createScope).Methods(http.MethodPut)
	r.HandleFunc("/v1/scopes/{scope}/changes", h.getChanges).Methods(http.MethodGet)
	r.HandleFunc("/v1/scopes/{scope}/entities/{type}", h.createEntity).Methods(http.MethodPost)
	r.HandleFunc("/v1/scopes/{scope}/entities/{type}/{id}", h.updateEntity).Methods(http.MethodPatch)
	r.HandleFunc("/v1/scopes/{scope}/entities/{type}/{id}", h.deleteEntity).Methods(http.MethodDelete)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) createScope(w http.ResponseWriter, r *http.Request) {
	scopeID := mux.Vars(r)["scope"]
	if err := h.store.CreateScope(r.Context(), scopeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	scopeID := mux.Vars(r)["scope"]
	snap, err := h.store.Snapshot(r.Context(), scopeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, snap)
}

func (h *Handler) getChanges(w http.ResponseWriter, r *http.Request) {
	scopeID := mux.Vars(r)["scope"]
	sinceParam := r.URL.Query().Get("since")
	if sinceParam == "" {
		sinceParam = string(remote.CursorStart)
	}
	since, err := strconv.ParseInt(sinceParam, 10, 64)
	if err != nil || since < 0 {
		h.writeError(w, r, remote.NewValidationError("", "", "malformed cursor: "+sinceParam))
		return
	}

	delta, err := h.store.ChangesSince(r.Context(), scopeID, since)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, delta)
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	env, err := h.store.CreateEntity(r.Context(), vars["scope"], entity.Type(vars["type"]), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, env)
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	env, err := h.store.UpdateEntity(r.Context(), vars["scope"], entity.Type(vars["type"]), vars["id"], payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, env)
}

func (h *Handler) deleteEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := h.store.DeleteEntity(r.Context(), vars["scope"], entity.Type(vars["type"]), vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readBody slurps the request body, rejecting empty bodies early.
func readBody(r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, remote.NewValidationError("", "", "unreadable request body")
	}
	if len(raw) == 0 {
		return nil, remote.NewValidationError("", "", "empty request body")
	}
	return json.RawMessage(raw), nil
}

// writeJSON encodes a successful response body.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
}

// writeError maps the error taxonomy onto HTTP status codes and the
// wire error body the client decodes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := remote.CodeNetworkFailure
	msg := "internal error"
	status := http.StatusInternalServerError

	var re *remote.Error
	if errors.As(err, &re) {
		code = re.Code
		msg = re.Message
		switch re.Code {
		case remote.CodeNotFound:
			status = http.StatusNotFound
		case remote.CodeConflict:
			status = http.StatusConflict
		case remote.CodeValidationFailure:
			status = http.StatusUnprocessableEntity
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"message": msg,
	})
}
