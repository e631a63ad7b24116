package dibs

import (
	"net/url"
	"sort"
)

// FieldMap is an insertion-ordered set of string key/value pairs. It mirrors
// the flat form-encoded payloads exchanged with the DIBS Payment Window: the
// outgoing redirect form and the inbound callback both travel as plain
// key=value fields with no nesting.
type FieldMap struct {
	keys   []string
	values map[string]string
}

// NewFieldMap returns an empty field map.
func NewFieldMap() *FieldMap {
	return &FieldMap{values: make(map[string]string)}
}

// FromValues builds a field map from parsed form values. Form parsing does
// not preserve wire order, so keys are added in sorted order; canonical MAC
// input is order-independent anyway. Only the first value per key is kept.
func FromValues(values url.Values) *FieldMap {
	fm := NewFieldMap()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fm.Set(k, values.Get(k))
	}
	return fm
}

// Set adds or overwrites a field. Overwriting keeps the original position.
func (f *FieldMap) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value for key and whether it is present.
func (f *FieldMap) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (f *FieldMap) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *FieldMap) Len() int {
	return len(f.keys)
}
