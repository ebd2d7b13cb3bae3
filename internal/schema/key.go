package schema

// KeyBuilder accumulates a composite key: a table id followed by columns
// in declared order. Each With* method appends one column and returns the
// builder so calls can be chained, keeping a 1:1 correspondence between a
// table's declared columns and the calls that build its key.
type KeyBuilder struct {
	buf []byte
}

// NewKey starts a composite key for table t.
func NewKey(t Table) *KeyBuilder {
	kb := &KeyBuilder{buf: make([]byte, 0, 32)}
	kb.buf = AppendTable(kb.buf, t)
	return kb
}

// WithUint appends a varint-encoded integer column.
func (kb *KeyBuilder) WithUint(v uint64) *KeyBuilder {
	kb.buf = AppendUvarint(kb.buf, v)
	return kb
}

// WithString appends a string column, returning any side-table entry that
// must be persisted alongside the key (nil if the string was inlined).
func (kb *KeyBuilder) WithString(s string) (*KeyBuilder, *SideTableEntry) {
	enc, entry := StringKey(s)
	kb.buf = append(kb.buf, enc...)
	return kb, entry
}

// WithBytes appends a raw byte column verbatim (used for already-encoded
// sub-keys, e.g. a full URI byte string used directly as a column).
func (kb *KeyBuilder) WithBytes(b []byte) *KeyBuilder {
	kb.buf = append(kb.buf, b...)
	return kb
}

// Bytes returns the accumulated key.
func (kb *KeyBuilder) Bytes() []byte { return kb.buf }

// Range returns [min, max) bounding every key sharing buf's current
// contents as a prefix, by incrementing the last byte of the prefix with
// carry across the whole prefix. If the prefix is all 0xFF, max is nil
// and callers should treat the range as open-ended.
func (kb *KeyBuilder) Range() (min, max []byte) {
	min = append([]byte(nil), kb.buf...)
	max = IncrementKey(kb.buf)
	return min, max
}

// TablePrefix returns the 1-or-more byte varint prefix for table t alone,
// used to build a range covering an entire table.
func TablePrefix(t Table) []byte {
	return AppendTable(nil, t)
}
