package http11

// Header stores HTTP header fields in arrival order.
//
// Up to MaxHeaders fields with values of at most MaxHeaderValue bytes live in
// fixed inline arrays, so typical requests never touch the heap. Larger
// values and fields beyond the inline capacity spill into an ordered overflow
// slice; unlike a map, the slice keeps duplicates and their relative order,
// which the wire format requires.
//
// Field names are case-insensitive on lookup, per RFC 7230.
type Header struct {
	names  [MaxHeaders][MaxHeaderName]byte
	values [MaxHeaders][MaxHeaderValue]byte

	nameLens  [MaxHeaders]uint8
	valueLens [MaxHeaders]uint8

	// order[i] is the overflow index for inline slot i, or -1. Serialization
	// must interleave inline and overflow fields in arrival order; instead of
	// that bookkeeping we record, per appended field, whether it went inline.
	inline []bool

	count uint8

	overflow []headerField
}

type headerField struct {
	name  string
	value string
}

// Add appends a header field, preserving duplicates and arrival order.
// Returns ErrHeaderTooLarge for names over MaxHeaderName bytes or values over
// 8KB, and ErrMalformedHeader when either contains CR or LF (response
// splitting guard).
func (h *Header) Add(name, value []byte) error {
	if len(name) > MaxHeaderName {
		return ErrHeaderTooLarge
	}
	if len(value) > 8192 {
		return ErrHeaderTooLarge
	}

	for _, b := range name {
		if b == '\r' || b == '\n' {
			return ErrMalformedHeader
		}
	}
	for _, b := range value {
		if b == '\r' || b == '\n' {
			return ErrMalformedHeader
		}
	}

	if h.count < MaxHeaders && len(value) <= MaxHeaderValue {
		idx := h.count
		copy(h.names[idx][:], name)
		copy(h.values[idx][:], value)
		h.nameLens[idx] = uint8(len(name))
		h.valueLens[idx] = uint8(len(value))
		h.count++
		h.inline = append(h.inline, true)
		return nil
	}

	h.overflow = append(h.overflow, headerField{name: string(name), value: string(value)})
	h.inline = append(h.inline, false)
	return nil
}

// Get returns the value of the first field with the given name
// (case-insensitive), or nil if absent. The returned slice references
// internal storage and is valid until the next Reset or Add.
func (h *Header) Get(name []byte) []byte {
	inlineIdx, overflowIdx := uint8(0), 0
	for _, inl := range h.inline {
		if inl {
			if h.nameLens[inlineIdx] == uint8(len(name)) &&
				bytesEqualCaseInsensitive(h.names[inlineIdx][:h.nameLens[inlineIdx]], name) {
				return h.values[inlineIdx][:h.valueLens[inlineIdx]]
			}
			inlineIdx++
		} else {
			f := h.overflow[overflowIdx]
			if len(f.name) == len(name) && bytesEqualCaseInsensitive([]byte(f.name), name) {
				return []byte(f.value)
			}
			overflowIdx++
		}
	}
	return nil
}

// GetString returns the first value for name as a string, or "".
func (h *Header) GetString(name []byte) string {
	val := h.Get(name)
	if val == nil {
		return ""
	}
	return string(val)
}

// Values returns every value recorded for name, in arrival order.
// Allocates; intended for duplicate-sensitive callers, not hot paths.
func (h *Header) Values(name []byte) []string {
	var out []string
	h.VisitAll(func(n, v []byte) bool {
		if bytesEqualCaseInsensitive(n, name) {
			out = append(out, string(v))
		}
		return true
	})
	return out
}

// Has reports whether a field with the given name exists.
func (h *Header) Has(name []byte) bool {
	return h.Get(name) != nil
}

// Set replaces the first field with the given name, or appends one.
// Any duplicate fields beyond the first are left in place.
func (h *Header) Set(name, value []byte) error {
	for i := uint8(0); i < h.count; i++ {
		if h.nameLens[i] == uint8(len(name)) &&
			bytesEqualCaseInsensitive(h.names[i][:h.nameLens[i]], name) {
			if len(value) <= MaxHeaderValue {
				copy(h.values[i][:], value)
				h.valueLens[i] = uint8(len(value))
				return nil
			}
			// Value no longer fits inline: blank the slot and append to
			// overflow so ordering stays intact for the remaining fields.
			h.valueLens[i] = 0
			h.nameLens[i] = 0
			h.overflow = append(h.overflow, headerField{name: string(name), value: string(value)})
			h.inline = append(h.inline, false)
			return nil
		}
	}
	for i, f := range h.overflow {
		if len(f.name) == len(name) && bytesEqualCaseInsensitive([]byte(f.name), name) {
			h.overflow[i].value = string(value)
			return nil
		}
	}
	return h.Add(name, value)
}

// Del removes every field with the given name.
func (h *Header) Del(name []byte) {
	for i := uint8(0); i < h.count; {
		if h.nameLens[i] == uint8(len(name)) &&
			bytesEqualCaseInsensitive(h.names[i][:h.nameLens[i]], name) {
			// Blank rather than shift: the inline/overflow order record
			// indexes slots positionally.
			h.nameLens[i] = 0
			h.valueLens[i] = 0
		}
		i++
	}
	for i := range h.overflow {
		f := h.overflow[i]
		if len(f.name) == len(name) && bytesEqualCaseInsensitive([]byte(f.name), name) {
			// Same positional rule as inline slots: compacting would pair
			// later overflow fields with earlier order entries.
			h.overflow[i] = headerField{}
		}
	}
}

// Len returns the number of stored fields, duplicates included.
func (h *Header) Len() int {
	n := 0
	h.VisitAll(func(name, value []byte) bool {
		n++
		return true
	})
	return n
}

// Reset clears all fields for reuse.
func (h *Header) Reset() {
	h.count = 0
	h.inline = h.inline[:0]
	h.overflow = h.overflow[:0]
}

// VisitAll calls visitor for each field in arrival order, stopping early if
// it returns false. Blanked (deleted) slots are skipped.
func (h *Header) VisitAll(visitor func(name, value []byte) bool) {
	inlineIdx, overflowIdx := uint8(0), 0
	for _, inl := range h.inline {
		if inl {
			name := h.names[inlineIdx][:h.nameLens[inlineIdx]]
			value := h.values[inlineIdx][:h.valueLens[inlineIdx]]
			inlineIdx++
			if len(name) == 0 {
				continue
			}
			if !visitor(name, value) {
				return
			}
		} else {
			if overflowIdx >= len(h.overflow) {
				continue
			}
			f := h.overflow[overflowIdx]
			overflowIdx++
			if len(f.name) == 0 {
				continue
			}
			if !visitor([]byte(f.name), []byte(f.value)) {
				return
			}
		}
	}
}

// bytesEqualCaseInsensitive compares two ASCII byte slices ignoring case.
func bytesEqualCaseInsensitive(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 32
	}
	return b
}
