// Package upgrade provides the shell that lets the billing logic be
// replaced in place while the stored plans, subscriptions and root state
// stay untouched.
//
// The shell keeps the active logic behind an atomic pointer. Callers talk
// to the shell; the shell forwards to whichever logic version is current.
// Replacing the logic is gated on a separate admin address and on the new
// version's storage layout extending the recorded one.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/event"
	"github.com/xraph/recur/guard"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/plugin"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// ErrIncompatibleLogic is returned when a new logic version does not share
// the reentrancy guard of the one it replaces.
var ErrIncompatibleLogic = errors.New("recur: logic does not share the shell guard")

// Logic is one version of the billing engine. *recur.Engine implements it;
// later versions typically embed it and override what changed.
type Logic interface {
	Version() string
	StorageLayout() store.Layout
	Guard() *guard.Guard
	Plugins() *plugin.Registry

	Initialize(ctx context.Context, owner types.Address) error
	TransferOwnership(ctx context.Context, caller, newOwner types.Address) error
	Pause(ctx context.Context, caller types.Address) error
	Unpause(ctx context.Context, caller types.Address) error
	RecoverERC20(ctx context.Context, caller, token types.Address, amount types.Amount) error

	CreatePlan(ctx context.Context, caller types.Address, spec plan.Spec) (*plan.Plan, error)
	UpdatePlan(ctx context.Context, caller types.Address, planID uint64, upd plan.Update) error
	UpdateMerchant(ctx context.Context, caller types.Address, planID uint64, merchant types.Address) error
	DisablePlan(ctx context.Context, caller types.Address, planID uint64) error

	Subscribe(ctx context.Context, caller types.Address, planID uint64) (*subscription.Subscription, error)
	SubscribeWithPermit(ctx context.Context, caller types.Address, planID uint64, deadline time.Time, signature []byte) (*subscription.Subscription, error)
	ProcessPayment(ctx context.Context, caller, subscriber types.Address, planID uint64) (*charge.Charge, error)
	CancelSubscription(ctx context.Context, caller types.Address, planID uint64) error

	Plan(ctx context.Context, planID uint64) (*plan.Plan, error)
	Plans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	PlanCount(ctx context.Context) (uint64, error)
	Subscription(ctx context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error)
	Subscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	DueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error)
	Charges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error)
	QuoteAmount(ctx context.Context, planID uint64) (types.Amount, error)
	Owner(ctx context.Context) (types.Address, error)
	Paused(ctx context.Context) (bool, error)
}

var _ Logic = (*recur.Engine)(nil)

// Option configures a Shell.
type Option func(*Shell)

// WithAdmin sets the admin recorded on first deploy. It is ignored when
// attaching to a store that already has an admin.
func WithAdmin(admin types.Address) Option {
	return func(s *Shell) { s.admin = admin }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// WithClock sets the time source used to stamp shell events.
func WithClock(clock func() time.Time) Option {
	return func(s *Shell) { s.clock = clock }
}

// Shell forwards engine calls to the active logic version.
type Shell struct {
	logic  atomic.Pointer[Logic]
	store  store.Store
	guard  *guard.Guard
	admin  types.Address
	logger *slog.Logger
	clock  func() time.Time
}

// New deploys a shell over s with logic as its first version, or attaches
// to an existing deployment recorded in s.
//
// On first deploy the admin, version tag and storage layout are recorded.
// When attaching, logic's layout must extend the recorded one; a different
// version tag is recorded as the new active version.
func New(ctx context.Context, s store.Store, logic Logic, opts ...Option) (*Shell, error) {
	sh := &Shell{
		store:  s,
		guard:  logic.Guard(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(sh)
	}

	gctx, release, err := sh.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := s.GetState(gctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	layout := logic.StorageLayout()
	switch {
	case st.LogicVersion == "" && st.Admin.IsZero():
		if sh.admin.IsZero() {
			return nil, recur.ValidationError{Field: "admin", Message: "must not be the zero address"}
		}
		st.Admin = sh.admin
		st.LogicVersion = logic.Version()
		st.Layout = layout
		st.UpdatedAt = types.Second(sh.clock())
		if err := s.SaveState(gctx, st); err != nil {
			return nil, err
		}
		sh.logger.Info("upgrade shell deployed", "admin", st.Admin, "version", st.LogicVersion)

	default:
		if err := layout.Extends(st.Layout); err != nil {
			return nil, err
		}
		dirty := false
		switch {
		case st.Admin.IsZero() && sh.admin.IsZero():
			return nil, recur.ValidationError{Field: "admin", Message: "deployment has no admin recorded"}
		case st.Admin.IsZero():
			// Initialized through a bare engine before the shell existed.
			st.Admin = sh.admin
			dirty = true
		case !sh.admin.IsZero() && sh.admin != st.Admin:
			sh.logger.Warn("ignoring configured admin, deployment already has one",
				"configured", sh.admin,
				"recorded", st.Admin,
			)
		}
		sh.admin = st.Admin

		if st.LogicVersion != logic.Version() || st.Layout.Extends(layout) != nil {
			sh.logger.Info("logic version changed at attach",
				"previous_version", st.LogicVersion,
				"version", logic.Version(),
			)
			st.LogicVersion = logic.Version()
			st.Layout = layout
			dirty = true
		}
		if dirty {
			st.UpdatedAt = types.Second(sh.clock())
			if err := s.SaveState(gctx, st); err != nil {
				return nil, err
			}
		}
	}

	sh.logic.Store(&logic)
	return sh, nil
}

func (s *Shell) current() Logic {
	return *s.logic.Load()
}

// Implementation returns the active logic.
func (s *Shell) Implementation() Logic { return s.current() }

// Version returns the active logic version tag.
func (s *Shell) Version() string { return s.current().Version() }

// Admin returns the address allowed to upgrade and to change the admin.
func (s *Shell) Admin(ctx context.Context) (types.Address, error) {
	st, err := s.store.GetState(ctx)
	if err != nil {
		return types.ZeroAddress, err
	}
	return st.Admin, nil
}

// UpgradeTo replaces the active logic with next. Only the admin may call it.
func (s *Shell) UpgradeTo(ctx context.Context, caller types.Address, next Logic) error {
	var ev event.Event
	err := s.locked(ctx, func(ctx context.Context, st *store.State) error {
		if st.Admin != caller {
			return recur.ErrUnauthorized
		}
		if next.Guard() != s.guard {
			return ErrIncompatibleLogic
		}
		layout := next.StorageLayout()
		if err := layout.Extends(st.Layout); err != nil {
			return err
		}

		previous := st.LogicVersion
		st.LogicVersion = next.Version()
		st.Layout = layout
		st.UpdatedAt = types.Second(s.clock())
		if err := s.store.SaveState(ctx, st); err != nil {
			return err
		}
		s.logic.Store(&next)

		s.logger.Info("logic upgraded", "previous_version", previous, "version", st.LogicVersion, "by", caller)
		ev = &event.Upgraded{
			Header:          event.NewHeader(event.TypeUpgraded, st.UpdatedAt),
			PreviousVersion: previous,
			Version:         st.LogicVersion,
		}
		return nil
	})
	if err != nil {
		return err
	}
	next.Plugins().Emit(ctx, ev)
	return nil
}

// ChangeAdmin hands upgrade authority to newAdmin.
func (s *Shell) ChangeAdmin(ctx context.Context, caller, newAdmin types.Address) error {
	if newAdmin.IsZero() {
		return recur.ValidationError{Field: "new_admin", Message: "must not be the zero address"}
	}

	var ev event.Event
	err := s.locked(ctx, func(ctx context.Context, st *store.State) error {
		if st.Admin != caller {
			return recur.ErrUnauthorized
		}
		previous := st.Admin
		st.Admin = newAdmin
		st.UpdatedAt = types.Second(s.clock())
		if err := s.store.SaveState(ctx, st); err != nil {
			return err
		}
		s.admin = newAdmin

		s.logger.Info("admin changed", "previous_admin", previous, "new_admin", newAdmin)
		ev = &event.AdminChanged{
			Header:        event.NewHeader(event.TypeAdminChanged, st.UpdatedAt),
			PreviousAdmin: previous,
			NewAdmin:      newAdmin,
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.current().Plugins().Emit(ctx, ev)
	return nil
}

func (s *Shell) locked(ctx context.Context, fn func(ctx context.Context, st *store.State) error) error {
	gctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	st, err := s.store.GetState(gctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return fn(gctx, st)
}
