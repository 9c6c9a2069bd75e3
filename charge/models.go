// Package charge records receipts of successful subscription payments.
package charge

import (
	"time"

	"github.com/xraph/recur/id"
	"github.com/xraph/recur/types"
)

// Kind tells the first payment of an enrollment apart from renewals.
type Kind string

const (
	KindInitial Kind = "initial"
	KindRenewal Kind = "renewal"
)

// Charge is a receipt for one token pull from a subscriber to a merchant.
type Charge struct {
	ID              id.ChargeID   `json:"id"`
	Subscriber      types.Address `json:"subscriber"`
	PlanID          uint64        `json:"plan_id"`
	Merchant        types.Address `json:"merchant"`
	Token           types.Address `json:"token"`
	Amount          types.Amount  `json:"amount"`
	Kind            Kind          `json:"kind"`
	PeriodStart     time.Time     `json:"period_start"`
	NextPaymentDate time.Time     `json:"next_payment_date"`
	ChargedAt       time.Time     `json:"charged_at"`
}
