// Package types provides value types shared across recur: account addresses,
// 256-bit token amounts and record timestamps.
package types

import "time"

// Entity carries record timestamps. Embed it in stored models.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an Entity stamped with the current time.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt creates an Entity stamped with t, normalised to UTC seconds.
func NewEntityAt(t time.Time) Entity {
	t = Second(t)
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// Touch sets UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = Second(t)
}

// Second truncates t to whole seconds in UTC. Billing dates are tracked at
// second granularity.
func Second(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
