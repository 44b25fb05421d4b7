package api

import (
	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/errdefs"
)

// ErrorResponse is the error envelope every service edge emits. The code is
// the stable kind identifier from errdefs; messages carry context but never
// stack traces.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the kind code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error writes the error envelope with the status mapped from the error's
// kind and aborts the handler chain.
func Error(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errdefs.HTTPStatus(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    errdefs.Code(err),
			Message: err.Error(),
		},
	})
}
