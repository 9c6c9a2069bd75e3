package recur

import "github.com/xraph/recur/id"

// ID is the TypeID identifier used for subscriptions, events and charges.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
