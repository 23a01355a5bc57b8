package event

import (
	"github.com/shopspring/decimal"
)

// Metadata keys recognized by the store
const (
	MetaUserSub          = "user_sub"
	MetaBillingStartDate = "billing_start_date"
	MetaCacheStart       = "cache_start"
	MetaCacheEnd         = "cache_end"
)

// TokenUsage holds per-call token counts and their cost in cents
type TokenUsage struct {
	InputTokens      int64 `db:"input_tokens" json:"inputTokens"`
	OutputTokens     int64 `db:"output_tokens" json:"outputTokens"`
	CacheWriteTokens int64 `db:"cache_write_tokens" json:"cacheWriteTokens"`
	CacheReadTokens  int64 `db:"cache_read_tokens" json:"cacheReadTokens"`
	TotalCents       int64 `db:"total_cents" json:"totalCents"`
}

// UsageEvent is the canonical record for one remote action.
// Timestamp (epoch milliseconds) is the unique key within the store;
// a later write with the same timestamp replaces the earlier one, which
// is how near-real-time status corrections are absorbed.
type UsageEvent struct {
	Timestamp int64  `db:"timestamp" json:"timestamp"`
	Model     string `db:"model" json:"model"`
	Kind      string `db:"kind" json:"kind"`

	// RequestsCost is the cost in abstract request units
	RequestsCost decimal.Decimal `db:"requests_cost" json:"requestsCost"`

	TokenUsage

	// UsageBasedCost is the usage-based USD amount; the remote "-"
	// sentinel normalizes to zero
	UsageBasedCost decimal.Decimal `db:"usage_based_cost" json:"usageBasedCost"`

	IsTokenBasedCall bool   `db:"is_token_based_call" json:"isTokenBasedCall"`
	MaxMode          bool   `db:"max_mode" json:"maxMode"`
	OwningUser       string `db:"owning_user" json:"owningUser"`
}
