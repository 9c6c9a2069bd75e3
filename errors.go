package recur

import (
	"errors"
	"fmt"

	"github.com/xraph/recur/guard"
	"github.com/xraph/recur/oracle"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/pricing"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/token"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrAlreadyExists = errors.New("recur: already exists")
	ErrInvalidInput  = errors.New("recur: invalid input")

	// Plan errors
	ErrPlanNotFound        = errors.New("recur: plan not found")
	ErrPlanInactive        = errors.New("recur: plan inactive")
	ErrInvalidPricing      = plan.ErrInvalidPricing
	ErrPriceFeedRequired   = plan.ErrPriceFeedRequired
	ErrInvalidBillingCycle = plan.ErrInvalidBillingCycle
	ErrInvalidMerchant     = plan.ErrInvalidMerchant
	ErrInvalidToken        = plan.ErrInvalidToken

	// Subscription errors
	ErrSubscriptionNotFound  = errors.New("recur: subscription not found")
	ErrAlreadyActive         = errors.New("recur: subscription already active")
	ErrSubscriptionNotActive = errors.New("recur: subscription not active")
	ErrPaymentNotDue         = errors.New("recur: payment not due")
	ErrPermitNotSupported    = errors.New("recur: token does not support permits")

	// Pricing errors
	ErrDecimalsTooLarge   = pricing.ErrDecimalsTooLarge
	ErrPriceOverflow      = pricing.ErrPriceOverflow
	ErrInvalidOraclePrice = pricing.ErrInvalidOraclePrice
	ErrStalePrice         = pricing.ErrStalePrice
	ErrFeedNotFound       = oracle.ErrFeedNotFound

	// Guard errors
	ErrUnauthorized   = guard.ErrUnauthorized
	ErrContractPaused = guard.ErrContractPaused
	ErrReentrantCall  = guard.ErrReentrantCall

	// Upgrade errors
	ErrAlreadyInitialized = errors.New("recur: already initialized")
	ErrIncompatibleLayout = store.ErrIncompatibleLayout

	// Token ledger errors, returned by ledgers and passed through unchanged
	ErrInsufficientAllowance  = token.ErrInsufficientAllowance
	ErrInsufficientBalance    = token.ErrInsufficientBalance
	ErrExpiredPermit          = token.ErrExpiredPermit
	ErrInvalidPermitSignature = token.ErrInvalidPermitSignature
	ErrLedgerNotFound         = token.ErrLedgerNotFound

	// Store errors
	ErrStoreNotReady   = errors.New("recur: store not ready")
	ErrMigrationFailed = errors.New("recur: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("recur: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "recur: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("recur: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrFeedNotFound) ||
		errors.Is(err, ErrLedgerNotFound)
}

// IsValidation returns true if the call was rejected for its inputs or the
// current plan or subscription state.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPlanInactive) ||
		errors.Is(err, ErrDecimalsTooLarge) ||
		errors.Is(err, ErrPriceFeedRequired) ||
		errors.Is(err, ErrInvalidPricing) ||
		errors.Is(err, ErrInvalidBillingCycle) ||
		errors.Is(err, ErrInvalidMerchant) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrSubscriptionNotActive) ||
		errors.Is(err, ErrPaymentNotDue)
}

// IsArithmetic returns true if the charge amount could not be computed.
func IsArithmetic(err error) bool {
	return errors.Is(err, ErrPriceOverflow) ||
		errors.Is(err, ErrInvalidOraclePrice) ||
		errors.Is(err, ErrStalePrice)
}

// IsAuthorization returns true if a guard rejected the call.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrContractPaused) ||
		errors.Is(err, ErrReentrantCall)
}

// IsLedgerError returns true if the token ledger rejected the transfer or
// permit.
func IsLedgerError(err error) bool {
	return errors.Is(err, ErrInsufficientAllowance) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrExpiredPermit) ||
		errors.Is(err, ErrInvalidPermitSignature)
}

// IsRetryable returns true if resubmitting the same call later may succeed
// without changing engine state, e.g. after the subscriber raises an
// allowance or the feed publishes a fresh round.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrStalePrice) ||
		errors.Is(err, ErrInsufficientAllowance) ||
		errors.Is(err, ErrInsufficientBalance)
}
