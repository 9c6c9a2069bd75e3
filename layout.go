package recur

import (
	"github.com/xraph/recur/charge"
	"github.com/xraph/recur/plan"
	"github.com/xraph/recur/store"
	"github.com/xraph/recur/subscription"
)

// StorageLayout describes the records this logic version reads and writes.
// Later versions may append slots or append fields to a record, never
// reorder or remove them.
func StorageLayout() store.Layout {
	return store.Layout{
		store.SlotOf("state", store.State{}),
		store.SlotOf("plans", plan.Plan{}),
		store.SlotOf("subscriptions", subscription.Subscription{}),
		store.SlotOf("charges", charge.Charge{}),
	}
}
