package audithook

import "github.com/xraph/recur/event"

// Action constants for audit events. They match the engine's event types.
const (
	ActionPlanCreated     = string(event.TypePlanCreated)
	ActionPlanUpdated     = string(event.TypePlanUpdated)
	ActionPlanDisabled    = string(event.TypePlanDisabled)
	ActionMerchantUpdated = string(event.TypeMerchantUpdated)

	ActionSubscribed            = string(event.TypeSubscribed)
	ActionPaymentProcessed      = string(event.TypePaymentProcessed)
	ActionSubscriptionCancelled = string(event.TypeSubscriptionCancelled)

	ActionInitialized          = string(event.TypeInitialized)
	ActionOwnershipTransferred = string(event.TypeOwnershipTransferred)
	ActionPaused               = string(event.TypePaused)
	ActionUnpaused             = string(event.TypeUnpaused)
	ActionTokensRecovered      = string(event.TypeTokensRecovered)
	ActionUpgraded             = string(event.TypeUpgraded)
	ActionAdminChanged         = string(event.TypeAdminChanged)
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceSubscription = "subscription"
	ResourceEngine       = "engine"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryGovernance   = "governance"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
)
