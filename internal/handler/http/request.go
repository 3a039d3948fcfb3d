package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/middleware"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/response"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/sse"
	"github.com/go-chi/chi/v5"
)

type RequestHandler interface {
	List(w http.ResponseWriter, r *http.Request)
	Breakdown(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Decide(w http.ResponseWriter, r *http.Request)
	Cancel(w http.ResponseWriter, r *http.Request)
}

type requestHandlerImpl struct {
	hub *sse.Hub
}

func NewRequestHandler(hub *sse.Hub) RequestHandler {
	return &requestHandlerImpl{hub: hub}
}

func parseView(w http.ResponseWriter, r *http.Request) (request.View, bool) {
	view, ok := request.ParseView(r.URL.Query().Get("view"))
	if !ok {
		response.BadRequest(w, "view must be one of: assigned, mine", nil)
	}
	return view, ok
}

// List implements RequestHandler.
func (h *requestHandlerImpl) List(w http.ResponseWriter, r *http.Request) {
	view, ok := parseView(w, r)
	if !ok {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())

	list, err := ws.Requests.List(r.Context(), view)
	if err != nil {
		slog.Error("ListRequests service error", "error", err)
		response.HandleError(w, err)
		return
	}
	response.Success(w, list)
}

// Breakdown implements RequestHandler.
func (h *requestHandlerImpl) Breakdown(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())
	response.Success(w, ws.Requests.Breakdown(r.Context()))
}

// Get implements RequestHandler.
func (h *requestHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	view, ok := parseView(w, r)
	if !ok {
		return
	}
	ws := middleware.WorkspaceFromContext(r.Context())

	req, err := ws.Requests.Get(r.Context(), chi.URLParam(r, "id"), view)
	if err != nil {
		slog.Error("GetRequest service error", "error", err)
		response.HandleError(w, err)
		return
	}
	response.Success(w, req)
}

// Decide implements RequestHandler.
func (h *requestHandlerImpl) Decide(w http.ResponseWriter, r *http.Request) {
	var decisionReq request.DecisionRequest

	if err := json.NewDecoder(r.Body).Decode(&decisionReq); err != nil {
		slog.Error("Decide decode error", "error", err)
		response.BadRequest(w, "Invalid request format", nil)
		return
	}

	if err := decisionReq.Validate(); err != nil {
		response.HandleError(w, err)
		return
	}

	ws := middleware.WorkspaceFromContext(r.Context())
	updated, err := ws.Requests.Decide(r.Context(), chi.URLParam(r, "id"), request.ViewAssigned, decisionReq)
	if err != nil {
		slog.Error("Decide service error", "error", err)
		response.HandleError(w, err)
		return
	}

	h.hub.Publish(ws.ID, sse.EventRequestUpdated, updated)
	response.SuccessWithMessage(w, "Request updated", updated)
}

// Cancel implements RequestHandler.
func (h *requestHandlerImpl) Cancel(w http.ResponseWriter, r *http.Request) {
	ws := middleware.WorkspaceFromContext(r.Context())

	updated, err := ws.Requests.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("Cancel service error", "error", err)
		response.HandleError(w, err)
		return
	}

	h.hub.Publish(ws.ID, sse.EventRequestUpdated, updated)
	response.SuccessWithMessage(w, "Request cancelled", updated)
}
