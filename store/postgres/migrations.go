package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the recur store.
var Migrations = migrate.NewGroup("recur")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_recur_state",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS recur_state (
    key           TEXT PRIMARY KEY,
    owner         TEXT NOT NULL,
    admin         TEXT NOT NULL,
    paused        BOOLEAN NOT NULL DEFAULT FALSE,
    initialized   BOOLEAN NOT NULL DEFAULT FALSE,
    logic_version TEXT NOT NULL DEFAULT '',
    layout        TEXT NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS recur_state`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_recur_plans",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS recur_plans (
    id             BIGINT PRIMARY KEY,
    merchant       TEXT NOT NULL,
    token          TEXT NOT NULL,
    token_decimals SMALLINT NOT NULL,
    price          TEXT NOT NULL DEFAULT '0',
    billing_cycle  BIGINT NOT NULL,
    price_in_usd   BOOLEAN NOT NULL DEFAULT FALSE,
    usd_price      TEXT NOT NULL DEFAULT '0',
    price_feed     TEXT NOT NULL,
    active         BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_recur_plans_merchant ON recur_plans (merchant);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS recur_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_recur_subscriptions",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS recur_subscriptions (
    id                TEXT PRIMARY KEY,
    subscriber        TEXT NOT NULL,
    plan_id           BIGINT NOT NULL REFERENCES recur_plans (id),
    start_time        TIMESTAMPTZ NOT NULL,
    next_payment_date TIMESTAMPTZ NOT NULL,
    active            BOOLEAN NOT NULL DEFAULT TRUE,
    cancelled_at      TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_recur_subscriptions_slot ON recur_subscriptions (subscriber, plan_id);
CREATE INDEX IF NOT EXISTS idx_recur_subscriptions_due ON recur_subscriptions (next_payment_date) WHERE active;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS recur_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_recur_charges",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS recur_charges (
    id                TEXT PRIMARY KEY,
    subscriber        TEXT NOT NULL,
    plan_id           BIGINT NOT NULL,
    merchant          TEXT NOT NULL,
    token             TEXT NOT NULL,
    amount            TEXT NOT NULL,
    kind              TEXT NOT NULL,
    period_start      TIMESTAMPTZ NOT NULL,
    next_payment_date TIMESTAMPTZ NOT NULL,
    charged_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recur_charges_subscriber ON recur_charges (subscriber, plan_id, charged_at);
CREATE INDEX IF NOT EXISTS idx_recur_charges_merchant ON recur_charges (merchant, charged_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS recur_charges`)
				return err
			},
		},
	)
}
