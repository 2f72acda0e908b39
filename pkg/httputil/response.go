package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reservalo/booking-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithCreated sends a success response for a newly created resource
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Status: "success",
		Data:   data,
	})
}

// RespondWithError sends an error response carrying the stable error code.
func RespondWithError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus(), Response{
			Status: "error",
			Error: &Error{
				Code:    string(appErr.Code),
				Message: appErr.Message,
				Meta:    appErr.Meta,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, Response{
		Status: "error",
		Error: &Error{
			Code:    string(errors.CodeInternal),
			Message: "internal server error",
		},
	})
}

// RespondWithValidationError sends a 400 for malformed input.
func RespondWithValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Status: "error",
		Error: &Error{
			Code:    string(errors.CodeValidation),
			Message: message,
		},
	})
}
