// Package keeper collects due subscription payments in sweeps.
//
// The engine never charges on its own; anyone may call ProcessPayment once
// a payment is due. A Keeper is that caller: it lists due subscriptions,
// quotes their plans and charges each one, either on demand (Sweep) or on a
// cron schedule (Start).
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/recur"
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/subscription"
	"github.com/xraph/recur/types"
)

const (
	// DefaultBatchSize is how many due subscriptions are read per round.
	DefaultBatchSize = 100

	// DefaultSchedule runs a sweep every five minutes.
	DefaultSchedule = "*/5 * * * *"

	quoteConcurrency = 4
)

// ErrAlreadyRunning is returned by Start on a keeper that is already
// scheduled.
var ErrAlreadyRunning = errors.New("recur: keeper already running")

// Biller is the part of the engine a keeper drives. Both *recur.Engine and
// *upgrade.Shell satisfy it.
type Biller interface {
	DueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error)
	QuoteAmount(ctx context.Context, planID uint64) (types.Amount, error)
	ProcessPayment(ctx context.Context, caller, subscriber types.Address, planID uint64) (*charge.Charge, error)
}

// Failure is one subscription the sweep could not charge.
type Failure struct {
	Subscriber types.Address
	PlanID     uint64
	Err        error
}

// Report summarizes one sweep.
type Report struct {
	AsOf      time.Time
	Processed []*charge.Charge
	Failed    []Failure
}

// Err returns the failures as a recur.MultiError, or nil.
func (r *Report) Err() error {
	var me recur.MultiError
	for _, f := range r.Failed {
		me.Add(fmt.Errorf("subscriber %s plan %d: %w", f.Subscriber, f.PlanID, f.Err))
	}
	if !me.HasErrors() {
		return nil
	}
	return me
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithCaller sets the address the keeper charges as.
func WithCaller(addr types.Address) Option {
	return func(k *Keeper) { k.caller = addr }
}

// WithBatchSize sets how many due subscriptions are read per round.
func WithBatchSize(n int) Option {
	return func(k *Keeper) {
		if n > 0 {
			k.batchSize = n
		}
	}
}

// WithSchedule sets the cron expression used by Start.
func WithSchedule(spec string) Option {
	return func(k *Keeper) { k.schedule = spec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) { k.logger = logger }
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(k *Keeper) { k.tracer = tracer }
}

// WithClock sets the time source that decides what is due.
func WithClock(clock func() time.Time) Option {
	return func(k *Keeper) { k.clock = clock }
}

// Keeper charges due subscriptions.
type Keeper struct {
	biller    Biller
	caller    types.Address
	batchSize int
	schedule  string
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Keeper driving b.
func New(b Biller, opts ...Option) *Keeper {
	k := &Keeper{
		biller:    b,
		batchSize: DefaultBatchSize,
		schedule:  DefaultSchedule,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.tracer == nil {
		k.tracer = otel.GetTracerProvider().Tracer("github.com/xraph/recur/keeper")
	}
	return k
}

type slot struct {
	subscriber types.Address
	planID     uint64
}

// Sweep charges every subscription due at the time of the call. A
// subscription several cycles behind is charged once per missed cycle.
// Subscriptions that fail are reported and not retried within the sweep.
func (k *Keeper) Sweep(ctx context.Context) (*Report, error) {
	asOf := types.Second(k.clock())
	ctx, span := k.tracer.Start(ctx, "recur.keeper.sweep",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("recur.as_of", asOf.Format(time.RFC3339))),
	)
	defer span.End()

	report := &Report{AsOf: asOf}
	failed := make(map[slot]bool)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		due, err := k.biller.DueSubscriptions(ctx, asOf, k.batchSize+len(failed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("list due subscriptions: %w", err)
		}

		batch := make([]*subscription.Subscription, 0, k.batchSize)
		for _, sub := range due {
			if failed[slot{sub.Subscriber, sub.PlanID}] {
				continue
			}
			batch = append(batch, sub)
			if len(batch) == k.batchSize {
				break
			}
		}
		if len(batch) == 0 {
			break
		}

		unpriceable := k.quote(ctx, batch)
		for _, sub := range batch {
			key := slot{sub.Subscriber, sub.PlanID}
			if err, ok := unpriceable[sub.PlanID]; ok {
				failed[key] = true
				report.Failed = append(report.Failed, Failure{Subscriber: sub.Subscriber, PlanID: sub.PlanID, Err: err})
				continue
			}

			c, err := k.charge(ctx, sub)
			if err != nil {
				failed[key] = true
				report.Failed = append(report.Failed, Failure{Subscriber: sub.Subscriber, PlanID: sub.PlanID, Err: err})
				continue
			}
			report.Processed = append(report.Processed, c)
		}
	}

	span.SetAttributes(
		attribute.Int("recur.processed", len(report.Processed)),
		attribute.Int("recur.failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d charges failed", len(report.Failed)))
	}

	k.logger.Info("keeper sweep finished",
		"as_of", asOf,
		"processed", len(report.Processed),
		"failed", len(report.Failed),
	)
	return report, nil
}

// quote prices every distinct plan in batch concurrently and returns the
// plans that cannot be charged right now, with the reason.
func (k *Keeper) quote(ctx context.Context, batch []*subscription.Subscription) map[uint64]error {
	plans := make(map[uint64]struct{})
	for _, sub := range batch {
		plans[sub.PlanID] = struct{}{}
	}

	var (
		mu  sync.Mutex
		bad = make(map[uint64]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteConcurrency)
	for planID := range plans {
		g.Go(func() error {
			if _, err := k.biller.QuoteAmount(gctx, planID); err != nil {
				mu.Lock()
				bad[planID] = err
				mu.Unlock()
				k.logger.Debug("skipping plan, cannot quote", "plan_id", planID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // quote failures are collected, never returned
	return bad
}

func (k *Keeper) charge(ctx context.Context, sub *subscription.Subscription) (*charge.Charge, error) {
	ctx, span := k.tracer.Start(ctx, "recur.keeper.charge",
		trace.WithAttributes(
			attribute.String("recur.subscriber", sub.Subscriber.String()),
			attribute.Int64("recur.plan_id", int64(sub.PlanID)),
		),
	)
	defer span.End()

	c, err := k.biller.ProcessPayment(ctx, k.caller, sub.Subscriber, sub.PlanID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		k.logger.Warn("keeper charge failed",
			"subscriber", sub.Subscriber,
			"plan_id", sub.PlanID,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("recur.amount", c.Amount.String()))
	k.logger.Debug("keeper charged subscription",
		"subscriber", sub.Subscriber,
		"plan_id", sub.PlanID,
		"amount", c.Amount,
		"next_payment_date", c.NextPaymentDate,
	)
	return c, nil
}

// Start schedules sweeps on the configured cron expression.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cron != nil {
		return ErrAlreadyRunning
	}

	c := cron.New()
	_, err := c.AddFunc(k.schedule, func() {
		report, err := k.Sweep(ctx)
		if err != nil {
			k.logger.Error("keeper sweep failed", "error", err)
			return
		}
		if ferr := report.Err(); ferr != nil {
			k.logger.Warn("keeper sweep had failures", "error", ferr)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule keeper %q: %w", k.schedule, err)
	}
	c.Start()
	k.cron = c

	k.logger.Info("keeper started", "schedule", k.schedule, "batch_size", k.batchSize)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.mu.Unlock()

	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		k.logger.Info("keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
