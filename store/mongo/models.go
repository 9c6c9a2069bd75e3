package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/id"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// ==================== State model ====================

const stateKey = "engine"

type stateModel struct {
	grove.BaseModel `grove:"table:recur_state"`

	Key          string      `grove:"key,pk"        bson:"_id"`
	Owner        string      `grove:"owner"         bson:"owner"`
	Admin        string      `grove:"admin"         bson:"admin"`
	Paused       bool        `grove:"paused"        bson:"paused"`
	Initialized  bool        `grove:"initialized"   bson:"initialized"`
	LogicVersion string      `grove:"logic_version" bson:"logic_version"`
	Layout       []slotModel `grove:"layout"        bson:"layout"`
	UpdatedAt    time.Time   `grove:"updated_at"    bson:"updated_at"`
}

type slotModel struct {
	Name   string   `bson:"name"`
	Type   string   `bson:"type"`
	Fields []string `bson:"fields,omitempty"`
}

func toStateModel(st *store.State) *stateModel {
	layout := make([]slotModel, len(st.Layout))
	for i, s := range st.Layout {
		layout[i] = slotModel{Name: s.Name, Type: s.Type, Fields: s.Fields}
	}
	return &stateModel{
		Key:          stateKey,
		Owner:        st.Owner.String(),
		Admin:        st.Admin.String(),
		Paused:       st.Paused,
		Initialized:  st.Initialized,
		LogicVersion: st.LogicVersion,
		Layout:       layout,
		UpdatedAt:    st.UpdatedAt,
	}
}

func fromStateModel(m *stateModel) (*store.State, error) {
	owner, err := types.ParseAddress(m.Owner)
	if err != nil {
		return nil, err
	}
	admin, err := types.ParseAddress(m.Admin)
	if err != nil {
		return nil, err
	}

	var layout store.Layout
	for _, s := range m.Layout {
		layout = append(layout, store.Slot{Name: s.Name, Type: s.Type, Fields: s.Fields})
	}
	return &store.State{
		Owner:        owner,
		Admin:        admin,
		Paused:       m.Paused,
		Initialized:  m.Initialized,
		LogicVersion: m.LogicVersion,
		Layout:       layout,
		UpdatedAt:    m.UpdatedAt.UTC(),
	}, nil
}

// ==================== Plan model ====================

type planModel struct {
	grove.BaseModel `grove:"table:recur_plans"`

	ID            int64     `grove:"id,pk"          bson:"_id"`
	Merchant      string    `grove:"merchant"       bson:"merchant"`
	Token         string    `grove:"token"          bson:"token"`
	TokenDecimals int32     `grove:"token_decimals" bson:"token_decimals"`
	Price         string    `grove:"price"          bson:"price"`
	BillingCycle  int64     `grove:"billing_cycle"  bson:"billing_cycle"`
	PriceInUSD    bool      `grove:"price_in_usd"   bson:"price_in_usd"`
	USDPrice      string    `grove:"usd_price"      bson:"usd_price"`
	PriceFeed     string    `grove:"price_feed"     bson:"price_feed"`
	Active        bool      `grove:"active"         bson:"active"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:            int64(p.ID),
		Merchant:      p.Merchant.String(),
		Token:         p.Token.String(),
		TokenDecimals: int32(p.TokenDecimals),
		Price:         p.Price.String(),
		BillingCycle:  int64(p.BillingCycle / time.Second),
		PriceInUSD:    p.PriceInUSD,
		USDPrice:      p.USDPrice.String(),
		PriceFeed:     p.PriceFeed.String(),
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	var (
		p   = &plan.Plan{ID: uint64(m.ID)}
		err error
	)
	if p.Merchant, err = types.ParseAddress(m.Merchant); err != nil {
		return nil, err
	}
	if p.Token, err = types.ParseAddress(m.Token); err != nil {
		return nil, err
	}
	if p.PriceFeed, err = types.ParseAddress(m.PriceFeed); err != nil {
		return nil, err
	}
	if p.Price, err = types.ParseAmount(m.Price); err != nil {
		return nil, err
	}
	if p.USDPrice, err = types.ParseAmount(m.USDPrice); err != nil {
		return nil, err
	}
	p.TokenDecimals = uint8(m.TokenDecimals)
	p.BillingCycle = time.Duration(m.BillingCycle) * time.Second
	p.PriceInUSD = m.PriceInUSD
	p.Active = m.Active
	p.CreatedAt = m.CreatedAt.UTC()
	p.UpdatedAt = m.UpdatedAt.UTC()
	return p, nil
}

// ==================== Subscription model ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:recur_subscriptions"`

	ID              string     `grove:"id,pk"             bson:"_id"`
	Subscriber      string     `grove:"subscriber"        bson:"subscriber"`
	PlanID          int64      `grove:"plan_id"           bson:"plan_id"`
	StartTime       time.Time  `grove:"start_time"        bson:"start_time"`
	NextPaymentDate time.Time  `grove:"next_payment_date" bson:"next_payment_date"`
	Active          bool       `grove:"active"            bson:"active"`
	CancelledAt     *time.Time `grove:"cancelled_at"      bson:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `grove:"created_at"        bson:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"        bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              sub.ID.String(),
		Subscriber:      sub.Subscriber.String(),
		PlanID:          int64(sub.PlanID),
		StartTime:       sub.StartTime,
		NextPaymentDate: sub.NextPaymentDate,
		Active:          sub.Active,
		CancelledAt:     sub.CancelledAt,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	subscriber, err := types.ParseAddress(m.Subscriber)
	if err != nil {
		return nil, err
	}

	sub := &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              subID,
		Subscriber:      subscriber,
		PlanID:          uint64(m.PlanID),
		StartTime:       m.StartTime.UTC(),
		NextPaymentDate: m.NextPaymentDate.UTC(),
		Active:          m.Active,
	}
	if m.CancelledAt != nil {
		t := m.CancelledAt.UTC()
		sub.CancelledAt = &t
	}
	return sub, nil
}

// ==================== Charge model ====================

type chargeModel struct {
	grove.BaseModel `grove:"table:recur_charges"`

	ID              string    `grove:"id,pk"             bson:"_id"`
	Subscriber      string    `grove:"subscriber"        bson:"subscriber"`
	PlanID          int64     `grove:"plan_id"           bson:"plan_id"`
	Merchant        string    `grove:"merchant"          bson:"merchant"`
	Token           string    `grove:"token"             bson:"token"`
	Amount          string    `grove:"amount"            bson:"amount"`
	Kind            string    `grove:"kind"              bson:"kind"`
	PeriodStart     time.Time `grove:"period_start"      bson:"period_start"`
	NextPaymentDate time.Time `grove:"next_payment_date" bson:"next_payment_date"`
	ChargedAt       time.Time `grove:"charged_at"        bson:"charged_at"`
}

func toChargeModel(c *charge.Charge) *chargeModel {
	return &chargeModel{
		ID:              c.ID.String(),
		Subscriber:      c.Subscriber.String(),
		PlanID:          int64(c.PlanID),
		Merchant:        c.Merchant.String(),
		Token:           c.Token.String(),
		Amount:          c.Amount.String(),
		Kind:            string(c.Kind),
		PeriodStart:     c.PeriodStart,
		NextPaymentDate: c.NextPaymentDate,
		ChargedAt:       c.ChargedAt,
	}
}

func fromChargeModel(m *chargeModel) (*charge.Charge, error) {
	var (
		c   = &charge.Charge{PlanID: uint64(m.PlanID), Kind: charge.Kind(m.Kind)}
		err error
	)
	if c.ID, err = id.ParseChargeID(m.ID); err != nil {
		return nil, err
	}
	if c.Subscriber, err = types.ParseAddress(m.Subscriber); err != nil {
		return nil, err
	}
	if c.Merchant, err = types.ParseAddress(m.Merchant); err != nil {
		return nil, err
	}
	if c.Token, err = types.ParseAddress(m.Token); err != nil {
		return nil, err
	}
	if c.Amount, err = types.ParseAmount(m.Amount); err != nil {
		return nil, err
	}
	c.PeriodStart = m.PeriodStart.UTC()
	c.NextPaymentDate = m.NextPaymentDate.UTC()
	c.ChargedAt = m.ChargedAt.UTC()
	return c, nil
}
