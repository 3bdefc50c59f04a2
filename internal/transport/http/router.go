package apihttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tirds/internal/logger"
	"tirds/internal/types"
)

// Evaluator 由应用层实现，负责提案校验与评估。
type Evaluator interface {
	Evaluate(ctx context.Context, proposal types.TradeProposal) (types.TradeDecision, error)
}

// DecisionLookup 提供每个 symbol 最近一次决策的查询，可为空。
type DecisionLookup interface {
	Latest(symbol string) (types.TradeDecision, bool)
}

// maxProposalBytes 限制 /evaluate 请求体大小。
const maxProposalBytes = 1 << 20

type Router struct {
	evaluator Evaluator
	decisions DecisionLookup
}

func NewRouter(evaluator Evaluator, decisions DecisionLookup) *Router {
	return &Router{evaluator: evaluator, decisions: decisions}
}

// Register 将评估路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/evaluate", r.handleEvaluate)
	if r.decisions != nil {
		group.GET("/decisions/:symbol/latest", r.handleLatest)
	}
}

func (r *Router) handleLatest(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	decision, ok := r.decisions.Latest(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recent decision", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (r *Router) handleEvaluate(c *gin.Context) {
	var proposal types.TradeProposal
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProposalBytes)
	if err := c.ShouldBindJSON(&proposal); err != nil {
		writeError(c, types.NewEvaluationError(types.TagInvalidProposal, "", "请求体不是合法的 TradeProposal: "+err.Error(), err))
		return
	}
	decision, err := r.evaluator.Evaluate(c.Request.Context(), proposal)
	if err != nil {
		writeError(c, types.AsEvaluationError(err))
		return
	}
	c.JSON(http.StatusOK, decision)
}

func writeError(c *gin.Context, ee *types.EvaluationError) {
	status := StatusCode(ee)
	if status >= http.StatusInternalServerError {
		logger.Warnf("evaluate 失败 status=%d err=%v", status, ee)
	}
	c.AbortWithStatusJSON(status, types.ErrorEnvelope{Error: ee})
}

// StatusCode 将失败标签映射为 HTTP 状态码。
func StatusCode(ee *types.EvaluationError) int {
	if ee == nil {
		return http.StatusOK
	}
	switch ee.Tag {
	case types.TagInvalidProposal:
		return http.StatusBadRequest
	case types.TagEvaluationAborted:
		if ee.Reason == types.ReasonCacheUnavailable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case types.TagAllSpecialistsFailed, types.TagSynthesisFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
