package rl

import "sort"

// QValues is one Q-table row, indexed by Action
type QValues [NumActions]float64

// QTable maps discretized states to action values. Rows are created lazily
// as [0,0] on first access and never removed. It is not safe for concurrent use.
type QTable struct {
	rows map[StateKey]*QValues
}

// NewQTable creates an empty table
func NewQTable() *QTable {
	return &QTable{rows: make(map[StateKey]*QValues)}
}

// Get returns the row for key, inserting a zero row if absent. The returned
// row is owned by the table; writes through it are visible to later calls.
func (t *QTable) Get(key StateKey) *QValues {
	row, ok := t.rows[key]
	if !ok {
		row = &QValues{}
		t.rows[key] = row
	}
	return row
}

// Lookup returns a copy of the row for key without inserting it
func (t *QTable) Lookup(key StateKey) (QValues, bool) {
	row, ok := t.rows[key]
	if !ok {
		return QValues{}, false
	}
	return *row, true
}

// Set overwrites the row for key
func (t *QTable) Set(key StateKey, values QValues) {
	row := t.Get(key)
	*row = values
}

// Len returns the number of rows
func (t *QTable) Len() int {
	return len(t.rows)
}

// Keys returns every key in a stable order
func (t *QTable) Keys() []StateKey {
	keys := make([]StateKey, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Clone returns a deep copy of the table
func (t *QTable) Clone() *QTable {
	c := NewQTable()
	for k, row := range t.rows {
		v := *row
		c.rows[k] = &v
	}
	return c
}

// Equal reports whether both tables hold the same keys with identical values
func (t *QTable) Equal(o *QTable) bool {
	if t.Len() != o.Len() {
		return false
	}
	for k, row := range t.rows {
		other, ok := o.rows[k]
		if !ok || *row != *other {
			return false
		}
	}
	return true
}
