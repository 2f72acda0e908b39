// Package closure exposes the post-service confirmation window over HTTP.
package closure

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/model"
	"github.com/reservalo/booking-api/internal/service/closure"
	"github.com/reservalo/booking-api/pkg/httputil"
)

type Handler struct {
	service *closure.Service
}

func NewHandler(service *closure.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments/:id/closure")
	{
		appointments.POST("", h.Open)
		appointments.POST("/provider", h.ProviderAct)
		appointments.POST("/client", h.ClientAct)
	}
	r.GET("/closures/pending", h.ListPending)
}

func (h *Handler) Open(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	apt, err := h.service.Open(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

type actRequest struct {
	Action model.ClosureAction `json:"action" binding:"required"`
	Note   string              `json:"note"`
}

func (h *Handler) ProviderAct(c *gin.Context) {
	h.act(c, true)
}

func (h *Handler) ClientAct(c *gin.Context) {
	h.act(c, false)
}

func (h *Handler) act(c *gin.Context, byProvider bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req actRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	var apt *model.Appointment
	if byProvider {
		apt, err = h.service.ProviderAct(c.Request.Context(), id, req.Action, req.Note)
	} else {
		apt, err = h.service.ClientAct(c.Request.Context(), id, req.Action, req.Note)
	}
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) ListPending(c *gin.Context) {
	apts, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apts)
}
