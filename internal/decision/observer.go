package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tirds/internal/types"
)

// Observer 接收评估过程中的回调，便于外部记录指标；实现需并发安全。
type Observer interface {
	OnTransition(ctx context.Context, from, to State)
	OnSpecialist(ctx context.Context, report types.SpecialistReport)
	AfterEvaluate(ctx context.Context, trace EvaluationTrace)
}

// EvaluationTrace 描述一次评估的结果。
type EvaluationTrace struct {
	ProposalID uuid.UUID
	Symbol     string
	Final      State
	Reports    []types.SpecialistReport
	Err        *types.EvaluationError
	Elapsed    time.Duration
}
