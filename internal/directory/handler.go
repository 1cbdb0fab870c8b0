package directory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/authgrid/authgrid/internal/platform/httpx"
	"github.com/authgrid/authgrid/internal/rbac"
)

// Handler serves the department endpoints.
type Handler struct {
	logger   *slog.Logger
	resolver *rbac.Resolver
	service  *Service
	guard    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, resolver *rbac.Resolver, service *Service, guard rbac.Middleware) *Handler {
	return &Handler{logger: logger, resolver: resolver, service: service, guard: guard}
}

// MountRoutes registers the department routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/departments", h.listDepartments)
	r.Get("/departments/tree", h.departmentTree)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny("rbac.manage"))
		r.Post("/departments", h.createDepartment)
		r.Put("/departments/{departmentID}", h.updateDepartment)
		r.Delete("/departments", h.deleteDepartments)
		r.Put("/departments/{departmentID}/permissions", h.bindDepartmentPermissions)
		r.Put("/users/{userID}/departments", h.bindUserDepartments)
	})
}

func (h *Handler) listDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.service.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (h *Handler) departmentTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.resolver.DepartmentTree(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tree": tree})
}

func (h *Handler) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req DepartmentCreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	dept, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dept)
}

func (h *Handler) updateDepartment(w http.ResponseWriter, r *http.Request) {
	departmentID, ok := h.pathID(w, r, "departmentID")
	if !ok {
		return
	}
	var req DepartmentUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	req.ID = departmentID
	dept, err := h.service.Update(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dept)
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) deleteDepartments(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), req.IDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bindDepartmentPermissions(w http.ResponseWriter, r *http.Request) {
	departmentID, ok := h.pathID(w, r, "departmentID")
	if !ok {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.BindDepartmentPermissions(r.Context(), departmentID, req.IDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bindUserDepartments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.BindUserDepartments(r.Context(), userID, req.IDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("directory request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "path parameter "+name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
