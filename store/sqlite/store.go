// Package sqlite implements store.Store on SQLite through the grove ORM.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	recurstore "github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// compile-time interface check
var _ recurstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("recur/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("recur/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== State ====================

func (s *Store) GetState(ctx context.Context) (*recurstore.State, error) {
	m := new(stateModel)
	err := s.sdb.NewSelect(m).
		Where("key = ?", stateKey).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return &recurstore.State{}, nil
		}
		return nil, err
	}
	return fromStateModel(m)
}

func (s *Store) SaveState(ctx context.Context, st *recurstore.State) error {
	m, err := toStateModel(st)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).
		OnConflict("(key) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Set("admin = EXCLUDED.admin").
		Set("paused = EXCLUDED.paused").
		Set("initialized = EXCLUDED.initialized").
		Set("logic_version = EXCLUDED.logic_version").
		Set("layout = EXCLUDED.layout").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.sdb.NewInsert(toPlanModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID uint64) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", int64(planID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, recur.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models)

	if !opts.Merchant.IsZero() {
		q = q.Where("merchant = ?", opts.Merchant.String())
	}
	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) CountPlans(ctx context.Context) (uint64, error) {
	var count int64
	err := s.sdb.NewRaw(`SELECT COUNT(*) FROM recur_plans`).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.sdb.NewUpdate(toPlanModel(p)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return recur.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("subscriber = ?", subscriber.String()).
		Where("plan_id = ?", int64(planID)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, recur.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).
		OnConflict("(subscriber, plan_id) DO UPDATE").
		Set("start_time = EXCLUDED.start_time").
		Set("next_payment_date = EXCLUDED.next_payment_date").
		Set("active = EXCLUDED.active").
		Set("cancelled_at = EXCLUDED.cancelled_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if !opts.Subscriber.IsZero() {
		q = q.Where("subscriber = ?", opts.Subscriber.String())
	}
	if opts.PlanID != 0 {
		q = q.Where("plan_id = ?", int64(opts.PlanID))
	}
	switch opts.Status {
	case subscription.StatusActive:
		q = q.Where("active = ?", true)
	case subscription.StatusCancelled:
		q = q.Where("active = ?", false)
	case subscription.StatusUnsubscribed:
		// Unsubscribed slots have no row.
		return nil, nil
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("active = ?", true).
		Where("next_payment_date <= ?", asOf).
		OrderExpr("next_payment_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Charge Store ====================

func (s *Store) RecordCharge(ctx context.Context, c *charge.Charge) error {
	_, err := s.sdb.NewInsert(toChargeModel(c)).Exec(ctx)
	return err
}

func (s *Store) ListCharges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	var models []chargeModel
	q := s.sdb.NewSelect(&models)

	if !opts.Subscriber.IsZero() {
		q = q.Where("subscriber = ?", opts.Subscriber.String())
	}
	if opts.PlanID != 0 {
		q = q.Where("plan_id = ?", int64(opts.PlanID))
	}
	if !opts.Merchant.IsZero() {
		q = q.Where("merchant = ?", opts.Merchant.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("charged_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*charge.Charge, len(models))
	for i := range models {
		c, err := fromChargeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
