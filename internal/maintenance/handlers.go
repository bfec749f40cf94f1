package maintenance

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notifyarr/notifyarr/internal/store"
)

// Handlers exposes maintenance window administration over HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers creates maintenance handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers maintenance endpoints.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.listWindows)
	g.POST("", h.createWindow)
	g.PUT("/:id", h.updateWindow)
	g.POST("/:id/complete", h.completeWindow)
	g.POST("/:id/cancel", h.cancelWindow)
	g.DELETE("/:id", h.deleteWindow)
}

type windowRequest struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

func (r *windowRequest) validate() error {
	if r.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "startTime and endTime are required")
	}
	return nil
}

func (h *Handlers) listWindows(c echo.Context) error {
	offset, limit := pagination(c)
	windows, err := h.service.store.ListWindows(c.Request().Context(), offset, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list maintenance windows")
	}
	if windows == nil {
		windows = []*store.MaintenanceWindow{}
	}
	return c.JSON(http.StatusOK, windows)
}

func (h *Handlers) createWindow(c echo.Context) error {
	var req windowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	w, err := h.service.Create(c.Request().Context(), req.Title, req.Description, req.StartTime.UTC(), req.EndTime.UTC())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handlers) updateWindow(c echo.Context) error {
	id, err := windowID(c)
	if err != nil {
		return err
	}
	var req windowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	w, err := h.service.Update(c.Request().Context(), id, req.Title, req.Description, req.StartTime.UTC(), req.EndTime.UTC())
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Maintenance window not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handlers) completeWindow(c echo.Context) error {
	id, err := windowID(c)
	if err != nil {
		return err
	}
	err = h.service.Complete(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Maintenance window not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

func (h *Handlers) cancelWindow(c echo.Context) error {
	id, err := windowID(c)
	if err != nil {
		return err
	}
	err = h.service.Cancel(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Maintenance window not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handlers) deleteWindow(c echo.Context) error {
	id, err := windowID(c)
	if err != nil {
		return err
	}
	err = h.service.Delete(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Maintenance window not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete maintenance window")
	}
	return c.NoContent(http.StatusNoContent)
}

func windowID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid window id")
	}
	return id, nil
}

func pagination(c echo.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	return offset, limit
}
