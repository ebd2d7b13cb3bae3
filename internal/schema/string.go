package schema

import (
	"bytes"
	"crypto/sha256"
)

// InlineMax is the inline key budget (64-byte prefix slot + 32-byte
// SHA-256 digest for the hashed representation).
const InlineMax = 96

// inlineTrunc is the length (string bytes + terminator) at which a
// verbatim inline encoding collides in length with a truncated-and-hashed
// prefix block, requiring the disambiguating sentinel byte.
const inlineTrunc = InlineMax - sha256.Size // 64

// EncodeNullString returns the encoding of the NULL string sentinel.
func EncodeNullString() []byte { return []byte{0x00, 0x00} }

// EncodeEmptyString returns the encoding of the empty (non-NULL) string.
func EncodeEmptyString() []byte { return []byte{0x00, 0x01} }

// StringKey encodes s for use as a composite-key column.
//
// Strings under the inline limit are stored verbatim followed by a 0x00
// terminator. A string whose encoded verbatim length would be exactly
// inlineTrunc bytes gets one extra 0x00 appended, because that length
// would otherwise be indistinguishable from the truncated prefix of a
// hashed string. Longer strings store their first (inlineTrunc-1) bytes,
// a 0x00 terminator, then SHA-256(s) with its first byte forced nonzero —
// the side-table entry records the full string under that 96-byte key.
func StringKey(s string) (key []byte, sideTableEntry *SideTableEntry) {
	if len(s) == 0 {
		return EncodeEmptyString(), nil
	}
	if len(s) < InlineMax {
		out := make([]byte, 0, len(s)+2)
		out = append(out, s...)
		out = append(out, 0x00)
		if len(out) == inlineTrunc {
			out = append(out, 0x00)
		}
		return out, nil
	}

	out := make([]byte, 0, InlineMax)
	out = append(out, s[:inlineTrunc-1]...)
	out = append(out, 0x00)
	sum := sha256.Sum256([]byte(s))
	if sum[0] == 0x00 {
		sum[0] = 0x01
	}
	out = append(out, sum[:]...)
	return out, &SideTableEntry{Key: append([]byte(nil), out...), Value: []byte(s)}
}

// SideTableEntry is an append-only (key -> full string) mapping emitted
// when a string is too long to inline.
type SideTableEntry struct {
	Key   []byte
	Value []byte
}

// SideTable resolves hashed-string keys to their full value. The
// repository wires this to a kvstore bucket; the interface keeps the
// codec independent of the storage engine. The side table is write-once
// per key.
type SideTable interface {
	Lookup(key []byte) (value []byte, ok bool, err error)
	Put(entry SideTableEntry) error
}

// DecodeString decodes the string column at the start of buf, returning
// the decoded value, whether it was the NULL sentinel, and the number of
// bytes consumed so the caller can continue decoding subsequent columns.
func DecodeString(buf []byte, side SideTable) (value string, isNull bool, consumed int, err error) {
	if len(buf) == 0 {
		return "", false, 0, ErrMalformedString
	}
	if buf[0] == 0x00 {
		if len(buf) < 2 {
			return "", false, 0, ErrMalformedString
		}
		switch buf[1] {
		case 0x00:
			return "", true, 2, nil
		case 0x01:
			return "", false, 2, nil
		default:
			return "", false, 0, ErrMalformedString
		}
	}

	limit := len(buf)
	if limit > InlineMax {
		limit = InlineMax
	}
	pos := bytes.IndexByte(buf[:limit], 0x00)
	if pos == -1 {
		return "", false, 0, ErrMalformedString
	}

	if pos+1 == inlineTrunc {
		if len(buf) <= inlineTrunc {
			return "", false, 0, ErrMalformedString
		}
		if buf[inlineTrunc] == 0x00 {
			return string(buf[:pos]), false, inlineTrunc + 1, nil
		}
		if len(buf) < InlineMax {
			return "", false, 0, ErrMalformedString
		}
		key := buf[:InlineMax]
		full, ok, lookupErr := side.Lookup(key)
		if lookupErr != nil {
			return "", false, 0, lookupErr
		}
		if !ok {
			return "", false, 0, ErrSideTableMiss
		}
		return string(full), false, InlineMax, nil
	}

	return string(buf[:pos]), false, pos + 1, nil
}

var (
	ErrSideTableMiss   = stringErr("schema: hashed string key missing from side table")
	ErrMalformedString = stringErr("schema: malformed inline string key")
)

type stringErr string

func (e stringErr) Error() string { return string(e) }
