// Package mongo implements store.Store on MongoDB through the grove ORM.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	recurstore "github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

// Collection name constants.
const (
	colState         = "recur_state"
	colPlans         = "recur_plans"
	colSubscriptions = "recur_subscriptions"
	colCharges       = "recur_charges"
)

// compile-time interface check
var _ recurstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all recur collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("recur/mongo: migrate %s indexes: %w", col, err)
		}
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
	var m stateModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": stateKey}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return &recurstore.State{}, nil
		}
		return nil, fmt.Errorf("recur/mongo: get state: %w", err)
	}
	return fromStateModel(&m)
}

func (s *Store) SaveState(ctx context.Context, st *recurstore.State) error {
	m := toStateModel(st)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": stateKey}).
		SetUpdate(bson.M{"$set": bson.M{
			"owner":         m.Owner,
			"admin":         m.Admin,
			"paused":        m.Paused,
			"initialized":   m.Initialized,
			"logic_version": m.LogicVersion,
			"layout":        m.Layout,
			"updated_at":    m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recur/mongo: save state: %w", err)
	}
	return nil
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.mdb.NewInsert(toPlanModel(p)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return recur.ErrAlreadyExists
		}
		return fmt.Errorf("recur/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID uint64) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": int64(planID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, recur.ErrPlanNotFound
		}
		return nil, fmt.Errorf("recur/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if !opts.Merchant.IsZero() {
		filter["merchant"] = opts.Merchant.String()
	}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("recur/mongo: list plans: %w", err)
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
	n, err := s.mdb.Collection(colPlans).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("recur/mongo: count plans: %w", err)
	}
	return uint64(n), nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recur/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return recur.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) GetSubscription(ctx context.Context, subscriber types.Address, planID uint64) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subscriber": subscriber.String(), "plan_id": int64(planID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, recur.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("recur/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"subscriber": m.Subscriber, "plan_id": m.PlanID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"start_time":        m.StartTime,
				"next_payment_date": m.NextPaymentDate,
				"active":            m.Active,
				"cancelled_at":      m.CancelledAt,
				"updated_at":        m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("recur/mongo: save subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{}
	if !opts.Subscriber.IsZero() {
		filter["subscriber"] = opts.Subscriber.String()
	}
	if opts.PlanID != 0 {
		filter["plan_id"] = int64(opts.PlanID)
	}
	switch opts.Status {
	case subscription.StatusActive:
		filter["active"] = true
	case subscription.StatusCancelled:
		filter["active"] = false
	case subscription.StatusUnsubscribed:
		return nil, nil
	}

	var models []subscriptionModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("recur/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"active": true, "next_payment_date": bson.M{"$lte": asOf}}).
		Sort(bson.D{{Key: "next_payment_date", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("recur/mongo: list due subscriptions: %w", err)
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
	_, err := s.mdb.NewInsert(toChargeModel(c)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("recur/mongo: record charge: %w", err)
	}
	return nil
}

func (s *Store) ListCharges(ctx context.Context, opts charge.ListOpts) ([]*charge.Charge, error) {
	filter := bson.M{}
	if !opts.Subscriber.IsZero() {
		filter["subscriber"] = opts.Subscriber.String()
	}
	if opts.PlanID != 0 {
		filter["plan_id"] = int64(opts.PlanID)
	}
	if !opts.Merchant.IsZero() {
		filter["merchant"] = opts.Merchant.String()
	}

	var models []chargeModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "charged_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("recur/mongo: list charges: %w", err)
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all recur collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colState: nil,
		colPlans: {
			{Keys: bson.D{{Key: "merchant", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "subscriber", Value: 1}, {Key: "plan_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "next_payment_date", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colCharges: {
			{Keys: bson.D{{Key: "subscriber", Value: 1}, {Key: "plan_id", Value: 1}, {Key: "charged_at", Value: 1}}},
			{Keys: bson.D{{Key: "merchant", Value: 1}, {Key: "charged_at", Value: 1}}},
		},
	}
}
