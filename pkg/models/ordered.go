package models

import (
	"bytes"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// OrderedEntries is a string-keyed JSON object that preserves the key order
// of the source document through decode and encode. Placeholder numbering
// downstream depends on this order, so entries are never re-sorted or
// rehashed.
type OrderedEntries struct {
	keys   []string
	values map[string]string
}

// Lookup maps placeholder tokens back to their original content. Keys are
// serialized in the order placeholders were assigned.
type Lookup = OrderedEntries

// NewOrderedEntries creates an empty ordered entry set.
func NewOrderedEntries() *OrderedEntries {
	return &OrderedEntries{
		values: make(map[string]string),
	}
}

// Set inserts or updates a key. A new key is appended to the iteration
// order; an existing key keeps its original position.
func (oe *OrderedEntries) Set(key, value string) {
	if oe.values == nil {
		oe.values = make(map[string]string)
	}
	if _, exists := oe.values[key]; !exists {
		oe.keys = append(oe.keys, key)
	}
	oe.values[key] = value
}

// Get returns the value for key and whether it is present.
func (oe *OrderedEntries) Get(key string) (string, bool) {
	if oe == nil || oe.values == nil {
		return "", false
	}
	v, ok := oe.values[key]
	return v, ok
}

// Len returns the number of entries. Safe on a nil receiver.
func (oe *OrderedEntries) Len() int {
	if oe == nil {
		return 0
	}
	return len(oe.keys)
}

// Keys returns the keys in insertion order. The returned slice is shared;
// callers must not modify it.
func (oe *OrderedEntries) Keys() []string {
	if oe == nil {
		return nil
	}
	return oe.keys
}

// Range calls fn for each entry in insertion order until fn returns false.
// Safe on a nil receiver.
func (oe *OrderedEntries) Range(fn func(key, value string) bool) {
	if oe == nil {
		return
	}
	for _, k := range oe.keys {
		if !fn(k, oe.values[k]) {
			return
		}
	}
}

// UnmarshalJSON decodes a JSON object token-by-token so that the declared
// key order is retained.
func (oe *OrderedEntries) UnmarshalJSON(data []byte) error {
	oe.keys = nil
	oe.values = make(map[string]string)

	dec := gojson.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("ordered entries: %w", err)
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(gojson.Delim); !ok || delim != '{' {
		return fmt.Errorf("ordered entries: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("ordered entries: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("ordered entries: non-string key %v", keyTok)
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("ordered entries: value for %q: %w", key, err)
		}
		oe.Set(key, value)
	}

	// Consume the closing brace
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("ordered entries: %w", err)
	}
	return nil
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
// An empty set encodes as {} rather than null.
func (oe *OrderedEntries) MarshalJSON() ([]byte, error) {
	if oe == nil || len(oe.keys) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range oe.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := gojson.Marshal(oe.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
