package prescription

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/pkg/pagination"
)

var Policy = auth.Policy{
	"doctor.prescriptions.create":   {auth.RoleDoctor},
	"doctor.prescriptions.list":     {auth.RoleDoctor},
	"doctor.prescriptions.get":      {auth.RoleDoctor},
	"doctor.prescriptions.update":   {auth.RoleDoctor},
	"doctor.prescriptions.delete":   {auth.RoleDoctor},
	"management.prescriptions":      {auth.RoleManagement},
	"management.prescriptions.aggr": {auth.RoleManagement},
}

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(root *echo.Group, pipe *auth.Pipeline) {
	guard := func(route string) echo.MiddlewareFunc { return pipe.Route(Policy, route) }

	d := root.Group("/doctor/prescriptions")
	d.POST("", h.Create, guard("doctor.prescriptions.create"))
	d.GET("", h.List, guard("doctor.prescriptions.list"))
	d.GET("/:id", h.Get, guard("doctor.prescriptions.get"))
	d.PUT("/:id", h.Update, guard("doctor.prescriptions.update"))
	d.DELETE("/:id", h.Delete, guard("doctor.prescriptions.delete"))

	m := root.Group("/management/doctors/:doctor_id/prescriptions")
	m.GET("", h.ListForDoctor, guard("management.prescriptions"))
	m.GET("/aggregate", h.AggregateForDoctor, guard("management.prescriptions.aggr"))
}

func (h *Handler) fail(err error) error {
	return apperr.ToHTTP(h.logger, err)
}

func parseParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	doc, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in PrescriptionCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), doc.UserID, in)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c echo.Context) error {
	doc, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ps, total, err := h.svc.List(c.Request().Context(), doc.UserID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ps, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	doc, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseParam(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), doc.UserID, id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	doc, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseParam(c, "id")
	if err != nil {
		return err
	}
	var in PrescriptionUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), doc.UserID, id, in)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	doc, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), doc.UserID, id); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	doctorID, err := parseParam(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ds, total, err := h.svc.ListDetailsByDoctor(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ds, total, pg))
}

func (h *Handler) AggregateForDoctor(c echo.Context) error {
	doctorID, err := parseParam(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	ds, total, err := h.svc.AggregateByDoctor(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ds, total, pg))
}
