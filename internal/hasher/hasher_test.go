package hasher

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiHasherMatchesStdlib(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog", 500))

	mh := New(SHA256, SHA1)
	n, err := mh.Hash(bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)

	wantSha256 := fmt.Sprintf("%x", sha256.Sum256(data))
	wantSha1 := fmt.Sprintf("%x", sha1.Sum(data))

	got256, ok := mh.Sum(SHA256)
	require.True(t, ok)
	require.Equal(t, wantSha256, got256)

	got1, ok := mh.Sum(SHA1)
	require.True(t, ok)
	require.Equal(t, wantSha1, got1)
}

func TestMultiHasherPrimaryAlwaysPresent(t *testing.T) {
	mh := New(SHA1)
	_, ok := mh.Sum(SHA256)
	require.True(t, ok, "primary algorithm must be computed even if omitted by the caller")
}

func TestMultiHasherDedupesAlgos(t *testing.T) {
	mh := New(SHA256, SHA256, SHA1, SHA1)
	require.Len(t, mh.URIs(), 2)
}

func TestPrimaryURIFormat(t *testing.T) {
	mh := New()
	_, err := mh.Hash(bytes.NewReader(nil))
	require.NoError(t, err)
	uri := mh.PrimaryURI()
	require.True(t, strings.HasPrefix(uri, "hash://sha256/"))
	require.Equal(t, fmt.Sprintf("hash://sha256/%x", sha256.Sum256(nil)), uri)
}

func TestUnknownAlgoPanics(t *testing.T) {
	require.Panics(t, func() {
		New(Algo("md5"))
	})
}
