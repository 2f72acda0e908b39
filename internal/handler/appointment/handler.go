// Package appointment exposes the booking lifecycle over HTTP.
package appointment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/service/lifecycle"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
	"github.com/reservalo/booking-api/pkg/httputil"
)

type Handler struct {
	service *lifecycle.Service
}

func NewHandler(service *lifecycle.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", h.Book)
		appointments.GET("", h.List)
		appointments.GET("/:id", h.Get)
		appointments.POST("/:id/confirm", h.Confirm)
		appointments.POST("/:id/cancel", h.Cancel)
		appointments.POST("/:id/expire", h.Expire)
	}
}

func (h *Handler) Book(c *gin.Context) {
	var req model.BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.Book(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, apt)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	apt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.AppointmentFilters{}
	if v := c.Query("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.RespondWithValidationError(c, "invalid provider ID")
			return
		}
		filters.ProviderID = id
	}
	if v := c.Query("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.RespondWithValidationError(c, "invalid client ID")
			return
		}
		filters.ClientID = id
	}
	filters.Status = model.AppointmentStatus(c.Query("status"))

	apts, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apts)
}

type confirmRequest struct {
	Location string `json:"location"`
}

func (h *Handler) Confirm(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.Confirm(c.Request.Context(), id, req.Location)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

// Expire is the operational trigger for the deadline edge the sweeper
// normally drives; useful for support tooling and tests.
func (h *Handler) Expire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	apt, err := h.service.Expire(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

type cancelRequest struct {
	Actor  model.Actor `json:"actor" binding:"required"`
	Reason string      `json:"reason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}
	if !req.Actor.Valid() {
		httputil.RespondWithError(c, apperrors.NewValidation("actor must be client, provider or system"))
		return
	}

	apt, err := h.service.Cancel(c.Request.Context(), id, req.Actor, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}
