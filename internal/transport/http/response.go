package httptransport

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Lucke514/ImageConverter/internal/domain/session"
	"github.com/Lucke514/ImageConverter/internal/platform/errors"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondAppError maps err to a status code by its kind.
func RespondAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	RespondError(c, StatusFor(err), err.Error(), nil)
}

// StatusFor returns the HTTP status matching err.
func StatusFor(err error) int {
	switch {
	case stderrors.Is(err, session.ErrNotFound), stderrors.Is(err, session.ErrItemNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, session.ErrBusy):
		return http.StatusConflict
	}

	switch errors.KindOf(err) {
	case errors.KindConfig, errors.KindLoad:
		return http.StatusBadRequest
	case errors.KindBatch, errors.KindEncode, errors.KindCanvas:
		return http.StatusUnprocessableEntity
	case errors.KindCancelled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
