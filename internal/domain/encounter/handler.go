package encounter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/encounters/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, registrar
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	read.GET("/encounters", h.SearchEncounters)
	read.GET("/encounters/guid/:guid", h.GetEncounterByGUID)
	read.GET("/encounters/:id", h.GetEncounter)
	read.GET("/encounters/:id/saved-datetime", h.GetSavedEncounterDatetime)
	read.GET("/patients/:id/encounters", h.ListPatientEncounters)
	read.GET("/encounter-types", h.ListEncounterTypes)
	read.GET("/encounter-types/name/:name", h.GetEncounterTypeByName)
	read.GET("/encounter-types/guid/:guid", h.GetEncounterTypeByGUID)
	read.GET("/encounter-types/:id", h.GetEncounterType)
	read.GET("/locations/guid/:guid", h.GetLocationByGUID)

	// Encounter writes – admin, physician, nurse, registrar
	write := api.Group("", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	write.POST("/encounters", h.CreateEncounter)
	write.PUT("/encounters/:id", h.UpdateEncounter)
	write.DELETE("/encounters/:id", h.DeleteEncounter)

	// Reference data writes – admin only
	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/encounter-types", h.CreateEncounterType)
	admin.PUT("/encounter-types/:id", h.UpdateEncounterType)
	admin.DELETE("/encounter-types/:id", h.DeleteEncounterType)
	admin.POST("/locations", h.CreateLocation)
}

// toHTTPError maps service errors onto response codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAmbiguousResult):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "conflicts with stored records")
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "record store unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// parseTime accepts RFC 3339 timestamps and bare YYYY-MM-DD dates (midnight
// UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseRefs(values []string, name string) ([]Ref, error) {
	refs := make([]Ref, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		refs = append(refs, Ref{ID: id})
	}
	return refs, nil
}

// filterFromQuery reads a SearchFilter from the request's query string.
func filterFromQuery(c echo.Context) (SearchFilter, error) {
	var f SearchFilter
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.Patient = &Ref{ID: id}
	}
	if v := c.QueryParam("location_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid location_id")
		}
		f.Location = &Ref{ID: id}
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
		f.To = &t
	}

	qp := c.QueryParams()
	var err error
	if f.Forms, err = parseRefs(qp["form_id"], "form_id"); err != nil {
		return f, err
	}
	if f.EncounterTypes, err = parseRefs(qp["encounter_type_id"], "encounter_type_id"); err != nil {
		return f, err
	}
	if v := c.QueryParam("include_voided"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid include_voided")
		}
		f.IncludeVoided = b
	}
	return f, nil
}

// -- Encounters --

func (h *Handler) SearchEncounters(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	encs, err := h.svc.GetEncounters(c.Request().Context(), f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, encs)
}

func (h *Handler) ListPatientEncounters(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	encs, err := h.svc.GetEncountersByPatientID(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, encs)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc.ID = uuid.Nil
	if err := h.svc.SaveEncounter(c.Request().Context(), &enc); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enc.ID = id
	if err := h.svc.SaveEncounter(c.Request().Context(), &enc); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if enc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetEncounterByGUID(c echo.Context) error {
	enc, err := h.svc.GetEncounterByGUID(c.Request().Context(), c.Param("guid"))
	if err != nil {
		return toHTTPError(err)
	}
	if enc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetSavedEncounterDatetime(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	t, err := h.svc.GetSavedEncounterDatetime(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	return c.JSON(http.StatusOK, map[string]time.Time{"encounter_datetime": *t})
}

func (h *Handler) DeleteEncounter(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEncounter(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Encounter types --

// ListEncounterTypes runs a prefix search when q is set, otherwise lists
// types by their retired flag.
func (h *Handler) ListEncounterTypes(c echo.Context) error {
	ctx := c.Request().Context()
	if q := c.QueryParam("q"); q != "" {
		types, err := h.svc.FindEncounterTypes(ctx, q)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, types)
	}

	includeRetired := false
	if v := c.QueryParam("include_retired"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_retired")
		}
		includeRetired = b
	}
	types, err := h.svc.GetAllEncounterTypes(ctx, includeRetired)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) GetEncounterType(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	et, err := h.svc.GetEncounterType(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	if et == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter type not found")
	}
	return c.JSON(http.StatusOK, et)
}

func (h *Handler) GetEncounterTypeByName(c echo.Context) error {
	et, err := h.svc.GetEncounterTypeByName(c.Request().Context(), c.Param("name"))
	if err != nil {
		return toHTTPError(err)
	}
	if et == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter type not found")
	}
	return c.JSON(http.StatusOK, et)
}

func (h *Handler) GetEncounterTypeByGUID(c echo.Context) error {
	et, err := h.svc.GetEncounterTypeByGUID(c.Request().Context(), c.Param("guid"))
	if err != nil {
		return toHTTPError(err)
	}
	if et == nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter type not found")
	}
	return c.JSON(http.StatusOK, et)
}

func (h *Handler) CreateEncounterType(c echo.Context) error {
	var et EncounterType
	if err := c.Bind(&et); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	et.ID = uuid.Nil
	if err := h.svc.SaveEncounterType(c.Request().Context(), &et); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, et)
}

func (h *Handler) UpdateEncounterType(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var et EncounterType
	if err := c.Bind(&et); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	et.ID = id
	if err := h.svc.SaveEncounterType(c.Request().Context(), &et); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, et)
}

func (h *Handler) DeleteEncounterType(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEncounterType(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Locations --

func (h *Handler) CreateLocation(c echo.Context) error {
	var loc Location
	if err := c.Bind(&loc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loc.ID = uuid.Nil
	if err := h.svc.SaveLocation(c.Request().Context(), &loc); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, loc)
}

func (h *Handler) GetLocationByGUID(c echo.Context) error {
	loc, err := h.svc.GetLocationByGUID(c.Request().Context(), c.Param("guid"))
	if err != nil {
		return toHTTPError(err)
	}
	if loc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "location not found")
	}
	return c.JSON(http.StatusOK, loc)
}
