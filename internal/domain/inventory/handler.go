package inventory

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
	"nurse.medicines.list":   {auth.RoleNurse},
	"nurse.medicines.get":    {auth.RoleNurse},
	"nurse.medicines.create": {auth.RoleNurse},
	"nurse.medicines.update": {auth.RoleNurse},
	"nurse.medicines.delete": {auth.RoleNurse},
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

	g := root.Group("/nurse/medicines")
	g.GET("", h.ListMedicines, guard("nurse.medicines.list"))
	g.POST("", h.CreateMedicine, guard("nurse.medicines.create"))
	g.GET("/:id", h.GetMedicine, guard("nurse.medicines.get"))
	g.PUT("/:id", h.UpdateMedicine, guard("nurse.medicines.update"))
	g.DELETE("/:id", h.DeleteMedicine, guard("nurse.medicines.delete"))
}

func (h *Handler) fail(err error) error {
	return apperr.ToHTTP(h.logger, err)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid medicine id")
	}
	return id, nil
}

func (h *Handler) ListMedicines(c echo.Context) error {
	nurse, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedicines(c.Request().Context(), nurse.UserID, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetMedicine(c echo.Context) error {
	nurse, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedicine(c.Request().Context(), nurse.UserID, id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) CreateMedicine(c echo.Context) error {
	nurse, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in MedicineCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.CreateMedicine(c.Request().Context(), nurse.UserID, in)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) UpdateMedicine(c echo.Context) error {
	nurse, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in MedicineUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.UpdateMedicine(c.Request().Context(), nurse.UserID, id, in)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMedicine(c echo.Context) error {
	nurse, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMedicine(c.Request().Context(), nurse.UserID, id); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}
