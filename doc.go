// Package recur provides a recurring billing engine for token payments.
//
// A merchant publishes a plan: a token, a billing cycle and a price. The
// price is either a fixed token amount or a USD amount converted at charge
// time through a price feed. A subscriber approves the engine's address as
// a spender and subscribes, which collects the first payment immediately.
// From then on anyone may call ProcessPayment once a cycle has elapsed;
// each call collects one cycle and moves the next payment date forward by
// exactly one cycle.
//
// # Quick Start
//
//	engine := recur.New(store,
//	    recur.WithAddress(engineAddr),
//	    recur.WithTokens(tokens),
//	    recur.WithFeeds(feeds),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
//	if err := engine.Initialize(ctx, owner); err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := engine.CreatePlan(ctx, owner, plan.Spec{
//	    Merchant:      merchant,
//	    Token:         usdc,
//	    TokenDecimals: 6,
//	    Price:         types.Units(10, 6),
//	    BillingCycle:  30 * 24 * time.Hour,
//	})
//
//	sub, err := engine.Subscribe(ctx, subscriber, p.ID)
//
// # Pricing
//
// USD prices are integer cents. The charged amount is
//
//	cents * 10^tokenDecimals * 10^feedDecimals / (answer * 100)
//
// computed in 256-bit integers and truncated. A feed reading that is not
// positive, is older than the configured maximum age (one hour by default)
// or lies in the future blocks the charge.
//
// # Safety
//
// Every mutating call passes through one reentrancy guard that never waits:
// a token ledger calling back into the engine, with any context, is refused
// with ErrReentrantCall, and so is any other call made while one is in
// flight.
// State is written only after the transfer succeeds; a failed call leaves
// nothing behind. The owner may pause subscribing and charging, while
// cancellation always stays open.
//
// # Upgrades
//
// The upgrade package wraps an engine in a Shell that keeps the address
// and the store while an administrator swaps the logic. A successor must
// extend the stored layout and share the shell's guard.
//
// # Integration
//
//   - keeper: scheduled sweeps charging due subscriptions, traced with OpenTelemetry
//   - audit_hook: audit records for every event
//   - observability: Prometheus counters per event
//   - publisher/natspub: JSON event stream over NATS for indexers
//   - extension: Forge extension wiring all of the above
//
// # TypeID
//
// Subscriptions, events and charge receipts carry TypeIDs:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41  // Subscription ID
//	evt_01h455vb4pex5vsknk084sn02q  // Event ID
//	chg_01h455vb4pex5vsknk084sn02q  // Charge ID
//
// Plans are numbered sequentially from 1.
package recur
