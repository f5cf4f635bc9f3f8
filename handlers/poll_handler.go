package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poll-ledger-backend/ledger"
)

// IdentityHeader 携带调用方身份的请求头
const IdentityHeader = "X-Identity"

const identityKey = "identity"

// CreatePollInput 创建投票的请求体
type CreatePollInput struct {
	PollID      *uint64 `json:"poll_id" binding:"required"`
	Description string  `json:"description"`
	PollStart   uint64  `json:"poll_start"`
	PollEnd     uint64  `json:"poll_end"`
}

// AddCandidateInput 添加候选人的请求体
type AddCandidateInput struct {
	CandidateName string `json:"candidate_name"`
}

// VoteInput 投票请求体
type VoteInput struct {
	CandidateName string `json:"candidate_name"`
}

// PollHandler 处理投票账本相关API请求
type PollHandler struct {
	svc    *ledger.Service
	logger *slog.Logger
}

// NewPollHandler 创建投票处理器
func NewPollHandler(svc *ledger.Service, logger *slog.Logger) *PollHandler {
	return &PollHandler{
		svc:    svc,
		logger: ledger.ResolveLogger(logger).With("module", "http"),
	}
}

// RegisterRoutes 注册投票路由。写操作需要身份，extra中间件在身份校验之后执行。
func (h *PollHandler) RegisterRoutes(api *gin.RouterGroup, extra ...gin.HandlerFunc) {
	polls := api.Group("/polls")
	{
		write := polls.Group("", RequireIdentity())
		write.Use(extra...)

		write.POST("", h.CreatePoll)
		write.POST("/:id/candidates", h.AddCandidate)
		write.POST("/:id/vote", h.Vote)

		polls.GET("/:id", h.GetPoll)
		polls.GET("/:id/candidates/:name", h.GetCandidate)
		polls.GET("/:id/voters/:identity", h.GetVoterRecord)
	}
}

// RequireIdentity 从请求头读取调用方身份，缺失时返回401
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetHeader(IdentityHeader)
		if err := ledger.ValidateIdentity(identity); err != nil {
			respondError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity 返回RequireIdentity写入的调用方身份
func Identity(c *gin.Context) string {
	return c.GetString(identityKey)
}

// CreatePoll 处理 POST /api/polls
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var in CreatePollInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	view, err := h.svc.InitializePoll(c.Request.Context(), Identity(c), *in.PollID, in.Description, in.PollStart, in.PollEnd)
	if err != nil {
		h.fail(c, "initialize_poll", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// AddCandidate 处理 POST /api/polls/:id/candidates
func (h *PollHandler) AddCandidate(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	var in AddCandidateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	view, err := h.svc.InitializeCandidate(c.Request.Context(), Identity(c), pollID, in.CandidateName)
	if err != nil {
		h.fail(c, "initialize_candidate", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// Vote 处理 POST /api/polls/:id/vote
func (h *PollHandler) Vote(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	var in VoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	receipt, err := h.svc.CastVote(c.Request.Context(), Identity(c), pollID, in.CandidateName)
	if err != nil {
		h.fail(c, "vote", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// GetPoll 处理 GET /api/polls/:id
func (h *PollHandler) GetPoll(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	view, err := h.svc.Poll(c.Request.Context(), pollID)
	if err != nil {
		h.fail(c, "get_poll", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetCandidate 处理 GET /api/polls/:id/candidates/:name
func (h *PollHandler) GetCandidate(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	view, err := h.svc.Candidate(c.Request.Context(), pollID, c.Param("name"))
	if err != nil {
		h.fail(c, "get_candidate", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetVoterRecord 处理 GET /api/polls/:id/voters/:identity
func (h *PollHandler) GetVoterRecord(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	view, err := h.svc.VoterRecord(c.Request.Context(), c.Param("identity"), pollID)
	if err != nil {
		h.fail(c, "get_voter_record", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// fail 记录失败原因后写入错误响应
func (h *PollHandler) fail(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"event", "request_failed", "op", op, "path", c.FullPath(), "error", err)
	} else {
		h.logger.DebugContext(c.Request.Context(), "request rejected",
			"event", "request_rejected", "op", op, "kind", ledger.Kind(err), "status", status)
	}
	respondError(c, err)
}

func pollParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, fmt.Errorf("%w: invalid poll id %q", errBadRequest, c.Param("id")))
		return 0, false
	}
	return id, true
}
