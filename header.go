package xhrmock

import (
	"iter"
	"maps"
	"slices"
	"strings"
)

// Header is an ordered mapping of lower-cased header names to values. Names
// are compared case-insensitively. Setting an existing name replaces its value
// but keeps the position of the first set, which is the order used by
// [Header.String].
//
// The zero value is an empty Header ready to use.
type Header struct {
	names  []string
	values map[string]string
}

// NewHeader creates a Header from m. Since map iteration order is random, the
// names are inserted in sorted order.
func NewHeader(m map[string]string) *Header {
	h := &Header{}
	for _, name := range slices.Sorted(maps.Keys(m)) {
		h.Set(name, m[name])
	}
	return h
}

// Get returns the value of name, or an empty string if it is not set.
func (h *Header) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// Lookup returns the value of name and whether it is set.
func (h *Header) Lookup(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// Has reports whether name is set.
func (h *Header) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Set sets name to value.
func (h *Header) Set(name, value string) {
	name = strings.ToLower(name)
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Del removes name.
func (h *Header) Del(name string) {
	name = strings.ToLower(name)
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	h.names = slices.DeleteFunc(h.names, func(n string) bool { return n == name })
}

// Len returns the number of names set.
func (h *Header) Len() int {
	return len(h.names)
}

// All iterates over the names and values in insertion order.
func (h *Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, name := range h.names {
			if !yield(name, h.values[name]) {
				return
			}
		}
	}
}

// Map returns a copy of the header as a plain map. Changing the map does not
// change the header.
func (h *Header) Map() map[string]string {
	m := make(map[string]string, len(h.names))
	for name, value := range h.All() {
		m[name] = value
	}
	return m
}

// String renders the header in the getAllResponseHeaders wire format: one
// "name: value\r\n" line per header in insertion order.
func (h *Header) String() string {
	var b strings.Builder
	for name, value := range h.All() {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// ParseHeaders parses a raw header block such as the one produced by
// [Header.String]. Lines are split on the first colon and the value is trimmed
// of surrounding whitespace. Lines that do not yield both a name and a value
// are skipped.
func ParseHeaders(raw string) *Header {
	h := &Header{}
	for line := range strings.Lines(raw) {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		h.Set(name, value)
	}
	return h
}
