package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"poll-ledger-backend/ledger"
)

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// errBadRequest 请求参数无法解析
var errBadRequest = errors.New("bad request")

// StatusFor 把账本错误映射为HTTP状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidTimestamp),
		errors.Is(err, ledger.ErrInvalidPollDuration),
		errors.Is(err, ledger.ErrPollEndedInPast),
		errors.Is(err, ledger.ErrDescriptionTooLong),
		errors.Is(err, ledger.ErrInvalidCandidateName):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrIdentityRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrPollNotStarted),
		errors.Is(err, ledger.ErrPollEnded):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, ledger.ErrAlreadyVoted),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) string {
	if errors.Is(err, errBadRequest) {
		return "BadRequest"
	}
	return ledger.Kind(err)
}

// respondError 写入错误响应并中止请求。内部错误不向客户端暴露细节。
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     kindOf(err),
		Message:   msg,
		Retryable: ledger.IsRetryable(err),
	})
}
