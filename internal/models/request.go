package models

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
)

// Request is one decoded socket frame, enriched with the caller's identity.
type Request struct {
	ID      json.RawMessage
	Route   string
	ActorID int64
	ItemID  int64
	Host    string
	Data    map[string]any
	// DataKeys lists the keys of Data in the order the client sent them.
	DataKeys []string
	// Params holds the frame's other top-level fields.
	Params map[string]any
}

// Handler serves one socket route. A map result carrying a non-nil "data"
// key is merged into the response envelope.
type Handler func(ctx context.Context, req *Request) (any, error)

// Value looks name up in the payload first and then among the top-level
// fields.
func (r *Request) Value(name string) (any, bool) {
	if v, ok := r.Data[name]; ok {
		return v, true
	}
	v, ok := r.Params[name]
	return v, ok
}

// OrderedNames returns the keys of values: first the ones the client sent,
// in request order, then the remaining ones (fields the server filled in)
// sorted.
func (r *Request) OrderedNames(values map[string]any) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	add := func(name string) {
		if _, ok := values[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range r.DataKeys {
		add(name)
	}
	var supplied, filled []string
	for name := range values {
		if seen[name] {
			continue
		}
		if _, ok := r.Data[name]; ok {
			supplied = append(supplied, name)
		} else {
			filled = append(filled, name)
		}
	}
	sort.Strings(supplied)
	sort.Strings(filled)
	for _, name := range append(supplied, filled...) {
		add(name)
	}
	return out
}

// Int64 reads name as an id. Accepts JSON numbers, ints and numeric strings.
func (r *Request) Int64(name string) (int64, bool) {
	v, ok := r.Value(name)
	if !ok {
		return 0, false
	}
	return ToInt64(v)
}

// более устойчиво к типам (int / int64 / float64 / string)
func ToInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
