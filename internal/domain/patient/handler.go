package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"

	"github.com/lims/patient/internal/domain/patient/widget"
	"github.com/lims/patient/internal/platform/auth"
	"github.com/lims/patient/pkg/pagination"
	"github.com/lims/patient/pkg/ymd"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.ReadRoles...))
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/mrn/:mrn", h.GetPatientByMRN)
	readGroup.GET("/patients/:id", h.GetPatient)
	readGroup.GET("/patients/:id/age", h.GetPatientAge)
	readGroup.GET("/age/birthdate", h.BirthDateFromAge)
	readGroup.GET("/age/ymd", h.AgeFromBirthDate)
	readGroup.GET("/settings", h.GetSettings)

	writeGroup := api.Group("", auth.RequireRole(auth.WriteRoles...))
	writeGroup.POST("/patients", h.CreatePatient)
	writeGroup.PUT("/patients/:id", h.UpdatePatient)
	writeGroup.PUT("/patients/:id/values", h.UpdatePatientValues)
	writeGroup.POST("/patients/:id/activate", h.ActivatePatient)
	writeGroup.POST("/patients/:id/deactivate", h.DeactivatePatient)
	writeGroup.DELETE("/patients/:id", h.DeletePatient)
}

// httpError maps service errors to responses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrDuplicateMRN), errors.Is(err, ErrAmbiguousResult):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ymd.ErrInvalidPeriod), errors.Is(err, ymd.ErrType), errors.Is(err, ErrNoBirthDate):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// bindForm reads the submitted widget values from a JSON object or from
// url-encoded / multipart form fields.
func bindForm(c echo.Context) (widget.Form, error) {
	req := c.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		form := widget.Form{}
		if err := json.NewDecoder(req.Body).Decode(&form); err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
		}
		return form, nil
	}

	values, err := c.FormParams()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return widget.FormFromValues(values), nil
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	form, err := bindForm(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), form)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	form, err := bindForm(c)
	if err != nil {
		return err
	}
	p, err := h.svc.EditPatient(c.Request().Context(), id, form)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// UpdatePatientValues replaces the patient's fields with plain JSON values,
// without going through the form widgets.
func (h *Handler) UpdatePatientValues(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var v Values
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.UpdatePatient(ctx, p, v); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ActivatePatient(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) DeactivatePatient(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.SetActive(c.Request().Context(), id, active)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetPatientByMRN(c echo.Context) error {
	opts := LookupOptions{
		FullObject:      cast.ToBool(c.QueryParam("full_object")),
		IncludeInactive: cast.ToBool(c.QueryParam("include_inactive")),
	}
	result, err := h.svc.GetPatientByMRN(c.Request().Context(), c.Param("mrn"), opts)
	if err != nil {
		return httpError(err)
	}
	if result == nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, result)
}

// -- Ages --

func (h *Handler) GetPatientAge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	age, err := h.svc.PatientAge(c.Request().Context(), id, c.QueryParam("on"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, age)
}

func (h *Handler) BirthDateFromAge(c echo.Context) error {
	period := c.QueryParam("ymd")
	if !ymd.IsYmd(period) {
		return echo.NewHTTPError(http.StatusBadRequest, "ymd must look like 1y2m3d")
	}
	dob, err := h.svc.BirthDateFromAge(period, c.QueryParam("on"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ymd":       period,
		"birthdate": dob.Format("2006-01-02"),
	})
}

func (h *Handler) AgeFromBirthDate(c echo.Context) error {
	age, err := h.svc.AgeFromBirthDate(c.QueryParam("birthdate"), c.QueryParam("on"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, age)
}

// -- Settings --

func (h *Handler) GetSettings(c echo.Context) error {
	s := h.svc.Settings()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"require_patient": s.RequirePatient,
		"patient_folder":  s.FolderName,
		"timezone":        s.Location.String(),
	})
}
