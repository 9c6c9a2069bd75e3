package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// ErrIncompatibleLayout is returned when a logic version would read or
// write persisted fields at different positions than its predecessor.
var ErrIncompatibleLayout = errors.New("recur: incompatible storage layout")

// Slot describes one persisted collection or value. Fields lists the
// member fields of a record type in declaration order.
type Slot struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Fields []string `json:"fields,omitempty"`
}

// Layout is the ordered storage description of a logic version. Layouts may
// only grow: a successor keeps every slot at its position and every field
// at its position within the slot, appending new ones at the end.
type Layout []Slot

// SlotOf describes the Go type of v stored under name. Record types are
// described by their fields, with embedded structs flattened in place, so a
// renamed type with the same fields is still compatible.
func SlotOf(name string, v any) Slot {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		return Slot{Name: name, Type: "struct", Fields: structFields(t)}
	}
	return Slot{Name: name, Type: t.String()}
}

func structFields(t reflect.Type) []string {
	var out []string
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			out = append(out, structFields(f.Type)...)
			continue
		}
		out = append(out, f.Name+" "+f.Type.String())
	}
	return out
}

// Extends reports whether l is prev or an append-only growth of prev.
func (l Layout) Extends(prev Layout) error {
	if len(l) < len(prev) {
		return fmt.Errorf("%w: %d slots, previous layout has %d", ErrIncompatibleLayout, len(l), len(prev))
	}
	for i, old := range prev {
		cur := l[i]
		if cur.Name != old.Name || cur.Type != old.Type {
			return fmt.Errorf("%w: slot %d is %s %s, was %s %s",
				ErrIncompatibleLayout, i, cur.Name, cur.Type, old.Name, old.Type)
		}
		if len(cur.Fields) < len(old.Fields) {
			return fmt.Errorf("%w: slot %s dropped fields", ErrIncompatibleLayout, cur.Name)
		}
		for j, f := range old.Fields {
			if cur.Fields[j] != f {
				return fmt.Errorf("%w: slot %s field %d is %q, was %q",
					ErrIncompatibleLayout, cur.Name, j, cur.Fields[j], f)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of l.
func (l Layout) Clone() Layout {
	if l == nil {
		return nil
	}
	out := make(Layout, len(l))
	for i, s := range l {
		out[i] = Slot{Name: s.Name, Type: s.Type, Fields: slices.Clone(s.Fields)}
	}
	return out
}

// Encode renders l as JSON for text columns.
func (l Layout) Encode() (string, error) {
	if len(l) == 0 {
		return "", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode layout: %w", err)
	}
	return string(b), nil
}

// DecodeLayout parses the output of Encode.
func DecodeLayout(s string) (Layout, error) {
	if s == "" {
		return nil, nil
	}
	var l Layout
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	return l, nil
}
