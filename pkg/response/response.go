package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeTooManyReqs   = 429
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeOrderNotFound          = 1001
	CodeInvalidTransition      = 1002
	CodeInsufficientBalance    = 1003
	CodeConcurrentModification = 1004
	CodeInvalidAmount          = 1005
	CodeNoFreeCoffee           = 1006
	CodeInvalidFreeCoffeeUsage = 1007
	CodeEmptyOrder             = 1008
	CodeProductUnavailable     = 1009
	CodeTokenNotFound          = 1010
	CodeTokenExpired           = 1011
	CodeTokenAlreadyRedeemed   = 1012
	CodeProcessing             = 1013
)

// httpStatus maps codes to the HTTP status written alongside the envelope.
// Business rule violations are 422 and retryable conflicts 409.
var httpStatus = map[int]int{
	CodeSuccess:                http.StatusOK,
	CodeParamError:             http.StatusBadRequest,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeForbidden:              http.StatusForbidden,
	CodeNotFound:               http.StatusNotFound,
	CodeTooManyReqs:            http.StatusTooManyRequests,
	CodeServerError:            http.StatusInternalServerError,
	CodeOrderNotFound:          http.StatusNotFound,
	CodeTokenNotFound:          http.StatusNotFound,
	CodeConcurrentModification: http.StatusConflict,
	CodeTokenAlreadyRedeemed:   http.StatusConflict,
	CodeProcessing:             http.StatusServiceUnavailable,
}

func StatusFor(code int) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusUnprocessableEntity
}

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(StatusFor(code), Response{
		Code:    code,
		Message: message,
	})
}

// Conflict reports a failure the client may resolve by re-reading and retrying.
func Conflict(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(StatusFor(code), Response{
		Code:      code,
		Message:   message,
		Retryable: true,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
