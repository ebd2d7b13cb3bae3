package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSideTable map[string][]byte

func (m memSideTable) Lookup(key []byte) ([]byte, bool, error) {
	v, ok := m[string(key)]
	return v, ok, nil
}

func (m memSideTable) Put(e SideTableEntry) error {
	m[string(e.Key)] = e.Value
	return nil
}

func roundTrip(t *testing.T, s string, side SideTable) string {
	t.Helper()
	key, entry := StringKey(s)
	if entry != nil {
		require.NoError(t, side.Put(*entry))
	}
	got, isNull, consumed, err := DecodeString(key, side)
	require.NoError(t, err)
	require.False(t, isNull)
	require.Equal(t, len(key), consumed)
	require.Equal(t, s, got)
	return got
}

func TestStringCodecRoundTrip(t *testing.T) {
	side := memSideTable{}
	cases := []string{
		"",
		"hello",
		"tag",
		strings.Repeat("x", inlineTrunc-1), // boundary: 63 bytes, triggers sentinel
		strings.Repeat("x", inlineTrunc),   // 64 bytes, no sentinel needed
		strings.Repeat("y", InlineMax-1),   // 95 bytes, longest inline
		strings.Repeat("z", InlineMax),     // 96 bytes, just over: hashed
		strings.Repeat("a", 10*1024),       // > 10 KiB
		"embedded\x00nul byte followed by more",
	}
	for _, s := range cases {
		roundTrip(t, s, side)
	}
}

func TestStringCodecDeterministic(t *testing.T) {
	side := memSideTable{}
	s := strings.Repeat("q", 500)
	k1, e1 := StringKey(s)
	k2, e2 := StringKey(s)
	require.Equal(t, k1, k2)
	require.Equal(t, e1.Key, e2.Key)
	require.Equal(t, e1.Value, e2.Value)
	_ = side
}

func TestStringCodecNullVsEmpty(t *testing.T) {
	side := memSideTable{}
	null := EncodeNullString()
	empty := EncodeEmptyString()
	require.NotEqual(t, null, empty)

	_, isNull, consumed, err := DecodeString(null, side)
	require.NoError(t, err)
	require.True(t, isNull)
	require.Equal(t, 2, consumed)

	v, isNull, consumed, err := DecodeString(empty, side)
	require.NoError(t, err)
	require.False(t, isNull)
	require.Equal(t, "", v)
	require.Equal(t, 2, consumed)
}

func TestHashedStringFirstByteNeverZero(t *testing.T) {
	side := memSideTable{}
	// Brute-force a handful of long strings and check the hash region's
	// first byte (at offset inlineTrunc) is never 0x00.
	for i := 0; i < 200; i++ {
		s := strings.Repeat(string(rune('a'+i%26)), InlineMax+i)
		key, entry := StringKey(s)
		require.NotNil(t, entry)
		require.NotEqual(t, byte(0x00), key[inlineTrunc])
		require.NoError(t, side.Put(*entry))
	}
}

func TestDecodeStringMissingSideTableEntry(t *testing.T) {
	side := memSideTable{}
	key, _ := StringKey(strings.Repeat("m", 1000))
	_, _, _, err := DecodeString(key, side)
	require.ErrorIs(t, err, ErrSideTableMiss)
}
