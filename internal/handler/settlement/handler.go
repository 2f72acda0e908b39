// Package settlement exposes payments, code verification and commission
// debts over HTTP.
package settlement

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reservalo/booking-api/internal/service/settlement"
	"github.com/reservalo/booking-api/pkg/httputil"
)

type Handler struct {
	service *settlement.Service
}

func NewHandler(service *settlement.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payment := r.Group("/appointments/:id/payment")
	{
		payment.POST("/card", h.InitiateCard)
		payment.POST("/confirm", h.ConfirmCard)
		payment.POST("/cash", h.SelectCash)
		payment.POST("/cash/collect", h.CollectCash)
		payment.POST("/verify", h.VerifyCode)
	}
	r.GET("/appointments/:id/payments", h.ListPayments)

	debts := r.Group("/providers/:id/debts")
	{
		debts.GET("", h.ListDebts)
		debts.GET("/balance", h.Balance)
		debts.POST("/manual-payment", h.SubmitManualPayment)
		debts.POST("/:debtID/resolution", h.ResolveReview)
	}
}

type initiateCardRequest struct {
	ReturnURL string `json:"return_url" binding:"required,url"`
}

func (h *Handler) InitiateCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req initiateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	session, err := h.service.InitiateCardPayment(c.Request.Context(), id, req.ReturnURL)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, session)
}

type confirmCardRequest struct {
	SessionRef string `json:"session_ref" binding:"required"`
}

func (h *Handler) ConfirmCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req confirmCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.ConfirmPayment(c.Request.Context(), id, req.SessionRef)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) SelectCash(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	apt, err := h.service.SelectCash(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) CollectCash(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	apt, err := h.service.CollectCash(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

type verifyCodeRequest struct {
	Code string `json:"code" binding:"required,len=4"`
}

// VerifyCode routes to the card or cash verification path based on the
// appointment's selected payment method.
func (h *Handler) VerifyCode(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	apt, err := h.service.VerifyCode(c.Request.Context(), id, req.Code)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, apt)
}

func (h *Handler) ListPayments(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid appointment ID")
		return
	}

	payments, err := h.service.ListPayments(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, payments)
}

func (h *Handler) ListDebts(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid provider ID")
		return
	}

	debts, err := h.service.ListProviderDebts(c.Request.Context(), providerID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, debts)
}

func (h *Handler) Balance(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid provider ID")
		return
	}

	total, err := h.service.OutstandingBalance(c.Request.Context(), providerID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"provider_id": providerID, "outstanding": total})
}

type manualPaymentRequest struct {
	Amount     int64  `json:"amount" binding:"required,gt=0"`
	ReceiptRef string `json:"receipt_ref" binding:"required"`
	Reference  string `json:"reference"`
}

func (h *Handler) SubmitManualPayment(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid provider ID")
		return
	}
	var req manualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	submission, err := h.service.SubmitManualCashPayment(c.Request.Context(), providerID, req.Amount, req.ReceiptRef, req.Reference)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, submission)
}

type resolveReviewRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

func (h *Handler) ResolveReview(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid provider ID")
		return
	}
	debtID, err := uuid.Parse(c.Param("debtID"))
	if err != nil {
		httputil.RespondWithValidationError(c, "invalid debt ID")
		return
	}
	var req resolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithValidationError(c, err.Error())
		return
	}

	if err := h.service.ResolveDebtReview(c.Request.Context(), providerID, debtID, *req.Approve); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"debt_id": debtID})
}
