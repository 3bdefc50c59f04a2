package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProposalSchemaVersion 是当前支持的提案结构版本。
const ProposalSchemaVersion = 1

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeProposal 描述一笔待评估的交易，提交后不再修改。
type TradeProposal struct {
	ID            uuid.UUID        `json:"id" validate:"required"`
	SchemaVersion int              `json:"schema_version" validate:"eq=1"`
	Symbol        string           `json:"symbol" validate:"required,max=32"`
	Legs          []TradeLeg       `json:"legs" validate:"required,min=1,dive"`
	ProposedAt    time.Time        `json:"proposed_at" validate:"required"`
	Context       *ProposalContext `json:"context,omitempty"`
}

// TradeLeg 单条交易腿；价格为空表示市价。
type TradeLeg struct {
	Side        Side             `json:"side" validate:"required,oneof=buy sell"`
	Price       *decimal.Decimal `json:"price,omitempty" validate:"omitnil,gt=0"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty" validate:"omitnil,gt=0"`
	TimeInForce string           `json:"time_in_force,omitempty" validate:"omitempty,oneof=gtc ioc fok day"`
}

// ProposalContext 为提案附带的可选上下文。
type ProposalContext struct {
	SourceRuleID       string           `json:"source_rule_id,omitempty"`
	CurrentMarketPrice *decimal.Decimal `json:"current_market_price,omitempty" validate:"omitnil,gt=0"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
}
