// Package reschedule exposes the reschedule negotiation over HTTP.
package reschedule

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/service/reschedule"
	"github.com/reservalo/booking-api/pkg/httputil"
)

type Handler struct {
	service *reschedule.Service
}

func NewHandler(service *reschedule.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments/:id/reschedule")
	{
		appointments.POST("", h.Request)
		appointments.POST("/respond", h.Respond)
	}
}

func (h *Handler) Request(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var proposal reschedule.Proposal
	if err := c.ShouldBindJSON(&proposal); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.Request(c.Request.Context(), id, &proposal)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

type respondRequest struct {
	Accept        *bool  `json:"accept" binding:"required"`
	DeclineReason string `json:"decline_reason"`
}

func (h *Handler) Respond(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.Respond(c.Request.Context(), id, *req.Accept, req.DeclineReason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}
