// Package event defines the payloads the engine emits after each committed
// state change. External indexers build their query views from this stream.
package event

import (
	"time"

	"github.com/xraph/recur/id"
	"github.com/xraph/recur/types"
)

// Type names an event kind. It doubles as the routing key for publishers.
type Type string

const (
	TypePlanCreated           Type = "plan.created"
	TypePlanUpdated           Type = "plan.updated"
	TypePlanDisabled          Type = "plan.disabled"
	TypeMerchantUpdated       Type = "plan.merchant_updated"
	TypeSubscribed            Type = "subscription.subscribed"
	TypePaymentProcessed      Type = "subscription.payment_processed"
	TypeSubscriptionCancelled Type = "subscription.cancelled"
	TypeInitialized           Type = "engine.initialized"
	TypeOwnershipTransferred  Type = "engine.ownership_transferred"
	TypePaused                Type = "engine.paused"
	TypeUnpaused              Type = "engine.unpaused"
	TypeTokensRecovered       Type = "engine.tokens_recovered"
	TypeUpgraded              Type = "engine.upgraded"
	TypeAdminChanged          Type = "engine.admin_changed"
)

// Event is implemented by every payload through its embedded Header.
type Event interface {
	Meta() Header
}

// Header identifies one emitted event.
type Header struct {
	ID         id.EventID `json:"id"`
	Type       Type       `json:"type"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// NewHeader stamps a new event of type t.
func NewHeader(t Type, at time.Time) Header {
	return Header{
		ID:         id.NewEventID(),
		Type:       t,
		OccurredAt: at,
	}
}

// Meta implements Event.
func (h Header) Meta() Header { return h }

// ──────────────────────────────────────────────────
// Plan events
// ──────────────────────────────────────────────────

type PlanCreated struct {
	Header
	PlanID        uint64        `json:"plan_id"`
	Merchant      types.Address `json:"merchant"`
	Token         types.Address `json:"token"`
	TokenDecimals uint8         `json:"token_decimals"`
	Price         types.Amount  `json:"price"`
	BillingCycle  time.Duration `json:"billing_cycle"`
	PriceInUSD    bool          `json:"price_in_usd"`
	USDPrice      types.Amount  `json:"usd_price"`
	PriceFeed     types.Address `json:"price_feed"`
}

type PlanUpdated struct {
	Header
	PlanID       uint64        `json:"plan_id"`
	BillingCycle time.Duration `json:"billing_cycle"`
	Price        types.Amount  `json:"price"`
	PriceInUSD   bool          `json:"price_in_usd"`
	USDPrice     types.Amount  `json:"usd_price"`
	PriceFeed    types.Address `json:"price_feed"`
}

type PlanDisabled struct {
	Header
	PlanID uint64 `json:"plan_id"`
}

type MerchantUpdated struct {
	Header
	PlanID           uint64        `json:"plan_id"`
	PreviousMerchant types.Address `json:"previous_merchant"`
	Merchant         types.Address `json:"merchant"`
}

// ──────────────────────────────────────────────────
// Subscription events
// ──────────────────────────────────────────────────

type Subscribed struct {
	Header
	Subscriber      types.Address `json:"subscriber"`
	PlanID          uint64        `json:"plan_id"`
	Amount          types.Amount  `json:"amount"`
	NextPaymentDate time.Time     `json:"next_payment_date"`
}

type PaymentProcessed struct {
	Header
	Subscriber      types.Address `json:"subscriber"`
	PlanID          uint64        `json:"plan_id"`
	Amount          types.Amount  `json:"amount"`
	NextPaymentDate time.Time     `json:"next_payment_date"`
}

type SubscriptionCancelled struct {
	Header
	Subscriber types.Address `json:"subscriber"`
	PlanID     uint64        `json:"plan_id"`
}

// ──────────────────────────────────────────────────
// Administrative events
// ──────────────────────────────────────────────────

type Initialized struct {
	Header
	Owner   types.Address `json:"owner"`
	Version string        `json:"version"`
}

type OwnershipTransferred struct {
	Header
	PreviousOwner types.Address `json:"previous_owner"`
	NewOwner      types.Address `json:"new_owner"`
}

type Paused struct {
	Header
	Account types.Address `json:"account"`
}

type Unpaused struct {
	Header
	Account types.Address `json:"account"`
}

type TokensRecovered struct {
	Header
	Token  types.Address `json:"token"`
	To     types.Address `json:"to"`
	Amount types.Amount  `json:"amount"`
}

type Upgraded struct {
	Header
	PreviousVersion string `json:"previous_version"`
	Version         string `json:"version"`
}

type AdminChanged struct {
	Header
	PreviousAdmin types.Address `json:"previous_admin"`
	NewAdmin      types.Address `json:"new_admin"`
}
