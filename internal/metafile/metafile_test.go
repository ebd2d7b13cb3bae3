package metafile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLineOriented(t *testing.T) {
	data := []byte("target: hash://sha256/abc\ntag: greeting\ncolor: blue\n\nignored-no-colon\n")
	target, tags := Parse(MIMELineOriented, data)
	require.Equal(t, "hash://sha256/abc", target)
	require.Equal(t, []Tag{{Field: "tag", Value: "greeting"}, {Field: "color", Value: "blue"}}, tags)
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"target":"hash://sha256/abc","tags":{"tag":["greeting"],"color":["blue"]}}`)
	target, tags := Parse(MIMEJSON, data)
	require.Equal(t, "hash://sha256/abc", target)
	require.Equal(t, []Tag{{Field: "color", Value: "blue"}, {Field: "tag", Value: "greeting"}}, tags)
}

func TestParseMalformedYieldsNoTagsNoError(t *testing.T) {
	target, tags := Parse(MIMEJSON, []byte("{not json"))
	require.Empty(t, target)
	require.Empty(t, tags)

	target, tags = Parse(MIMELineOriented, []byte("no target line at all"))
	require.Empty(t, target)
	require.Empty(t, tags)
}

func TestParseUnknownMIMEYieldsNothing(t *testing.T) {
	target, tags := Parse("application/octet-stream", []byte("whatever"))
	require.Empty(t, target)
	require.Empty(t, tags)
}

func TestIsMetaFileType(t *testing.T) {
	require.True(t, IsMetaFileType(MIMELineOriented))
	require.True(t, IsMetaFileType(MIMEJSON))
	require.False(t, IsMetaFileType("text/plain"))
}
