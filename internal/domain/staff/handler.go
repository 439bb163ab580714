package staff

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/pkg/pagination"
)

// Policy lists the roles allowed on each staff route.
var Policy = auth.Policy{
	"auth.register":          {auth.RoleManagement},
	"auth.me":                {},
	"management.doctors.new": {auth.RoleManagement},
	"management.nurses.new":  {auth.RoleManagement},
	"management.doctors":     {auth.RoleManagement},
	"management.nurses":      {auth.RoleManagement},
	"doctor.password":        {auth.RoleDoctor},
	"nurse.password":         {auth.RoleNurse},
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the staff routes on root. loginLimit throttles the
// public login endpoint.
func (h *Handler) RegisterRoutes(root *echo.Group, pipe *auth.Pipeline, loginLimit echo.MiddlewareFunc) {
	guard := func(route string) echo.MiddlewareFunc { return pipe.Route(Policy, route) }

	a := root.Group("/auth")
	var limit []echo.MiddlewareFunc
	if loginLimit != nil {
		limit = append(limit, loginLimit)
	}
	a.POST("/login", h.Login, limit...)
	a.POST("/register", h.Register, guard("auth.register"))
	a.GET("/me", h.Me, guard("auth.me"))

	m := root.Group("/management")
	m.POST("/doctors", h.CreateDoctor, guard("management.doctors.new"))
	m.POST("/nurses", h.CreateNurse, guard("management.nurses.new"))
	m.GET("/doctors", h.ListDoctors, guard("management.doctors"))
	m.GET("/nurses", h.ListNurses, guard("management.nurses"))

	root.PUT("/doctor/password", h.ChangePassword, guard("doctor.password"))
	root.PUT("/nurse/password", h.ChangePassword, guard("nurse.password"))
}

func (h *Handler) fail(err error) error {
	return apperr.ToHTTP(h.logger, err)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) create(c echo.Context, fn func(context.Context, UserCreate) (*User, error)) error {
	var in UserCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := fn(c.Request().Context(), in)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Register(c echo.Context) error { return h.create(c, h.svc.Register) }
func (h *Handler) CreateDoctor(c echo.Context) error { return h.create(c, h.svc.CreateDoctor) }
func (h *Handler) CreateNurse(c echo.Context) error { return h.create(c, h.svc.CreateNurse) }

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id.UserID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg))
}

func (h *Handler) ListNurses(c echo.Context) error {
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListNurses(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg))
}

func (h *Handler) ChangePassword(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in PasswordChange
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ChangePassword(c.Request().Context(), id.UserID, in); err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}
