package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/notifyarr/notifyarr/internal/store"
)

func (s *Server) listNotifications(c echo.Context) error {
	ctx := c.Request().Context()
	offset, limit := pagination(c)

	var sent *bool
	if v := c.QueryParam("sent"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid sent filter")
		}
		sent = &b
	}

	notifications, err := s.store.ListNotifications(ctx, offset, limit, sent)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list notifications")
	}
	total, err := s.store.CountNotifications(ctx, sent)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count notifications")
	}
	if notifications == nil {
		notifications = []*store.Notification{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   total,
		"offset":  offset,
		"limit":   limit,
		"results": notifications,
	})
}

func (s *Server) resendNotification(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid notification id")
	}

	err = s.dispatchService.Dispatch(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) getSettings(c echo.Context) error {
	all, err := s.settingsService.All(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load settings")
	}
	return c.JSON(http.StatusOK, all)
}

func (s *Server) updateSetting(c echo.Context) error {
	key := c.Param("key")

	var body struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if err := s.settingsService.Set(c.Request().Context(), key, body.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{key: body.Value})
}

func (s *Server) listUsers(c echo.Context) error {
	users, err := s.store.ListAllUsers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list users")
	}
	if users == nil {
		users = []*store.User{}
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) listRequests(c echo.Context) error {
	offset, limit := pagination(c)
	requests, err := s.store.ListRequests(c.Request().Context(), offset, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list requests")
	}
	if requests == nil {
		requests = []*store.MediaRequest{}
	}
	return c.JSON(http.StatusOK, requests)
}

func (s *Server) listIssues(c echo.Context) error {
	offset, limit := pagination(c)
	issues, err := s.store.ListIssues(c.Request().Context(), offset, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list issues")
	}
	if issues == nil {
		issues = []*store.Issue{}
	}
	return c.JSON(http.StatusOK, issues)
}

func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.ListTasks())
}

func (s *Server) runTask(c echo.Context) error {
	id := c.Param("id")
	if err := s.sched.RunNow(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "triggered"})
}

func (s *Server) triggerSync(c echo.Context) error {
	if err := s.syncService.RunCycle(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) triggerReconcile(c echo.Context) error {
	if err := s.reconcileService.RunCycle(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reconciled"})
}

func (s *Server) sendTestEmail(c echo.Context) error {
	ctx := c.Request().Context()

	admin := s.settingsService.AdminEmail(ctx)
	if admin == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No admin email configured")
	}

	body := "This is a test email from NotifyArr. Delivery is working."
	if err := s.mail.Send(ctx, []string{admin}, "NotifyArr Test Email", body); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "sent", "to": admin})
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
