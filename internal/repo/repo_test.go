package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeTempFile(t *testing.T, r *Repository, content string) string {
	t.Helper()
	path := filepath.Join(r.Dirs.Tmp, "submission-test")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o400))
	return path
}

func TestInternURIIsStableAndInterned(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	id1, err := r.InternURI(ctx, "hash://sha256/aaaa")
	require.NoError(t, err)
	id2, err := r.InternURI(ctx, "hash://sha256/aaaa")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	id3, err := r.InternURI(ctx, "hash://sha256/bbbb")
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)

	v, err := r.URIValue(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "hash://sha256/aaaa", v)
}

func TestCommitBatchAssignsSequenceAndLinksFile(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	path := writeTempFile(t, r, "hello")
	subs := []FileSubmission{{
		TempPath:     path,
		InternalHash: "deadbeef",
		MIMEType:     "text/plain",
		Size:         5,
		URIs:         []string{"hash://sha256/deadbeef"},
		Public:       true,
	}}

	files, err := r.CommitBatch(ctx, subs)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.EqualValues(t, 1, files[0].Seq)
	require.EqualValues(t, 1, files[0].ID)

	got, err := r.GetFileByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, files[0], got)

	require.NoFileExists(t, path)
	require.FileExists(t, r.Dirs.DataPath("deadbeef"))
}

func TestCommitBatchIdempotentOnRepeatedContent(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	sub := func() FileSubmission {
		return FileSubmission{
			TempPath:     writeTempFile(t, r, "same bytes"),
			InternalHash: "samehash",
			MIMEType:     "text/plain",
			Size:         10,
			URIs:         []string{"hash://sha256/samehash"},
			Public:       true,
		}
	}

	first, err := r.CommitBatch(ctx, []FileSubmission{sub()})
	require.NoError(t, err)

	second, err := r.CommitBatch(ctx, []FileSubmission{sub()})
	require.NoError(t, err)

	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[0].Seq, second[0].Seq)
}

func TestCommitBatchWithTagsDrainsMetaMap(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	targetURI := "hash://sha256/target000"
	targetID, err := r.InternURI(ctx, targetURI)
	require.NoError(t, err)

	metaURIID, err := r.InternURI(ctx, "hash://sha256/metafile000")
	require.NoError(t, err)
	require.NoError(t, r.DeferMetaMap(ctx, metaURIID, targetID))

	subs := []FileSubmission{{
		TempPath:     writeTempFile(t, r, "target content"),
		InternalHash: "target000",
		MIMEType:     "text/plain",
		Size:         14,
		URIs:         []string{targetURI},
		Public:       true,
		Tags: []PendingTag{
			{TargetURI: targetURI, Field: "tag", Value: "greeting"},
		},
	}}
	_, err = r.CommitBatch(ctx, subs)
	require.NoError(t, err)
}

func TestFileAvailableNotFoundThenDedup(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	avail, err := r.FileAvailable(ctx, "session-a", "hash://sha256/x", "")
	require.NoError(t, err)
	require.Equal(t, AvailNotFound, avail)

	avail, err = r.FileAvailable(ctx, "session-a", "hash://sha256/x", "")
	require.NoError(t, err)
	require.Equal(t, AvailSubmitted, avail)
}

func TestFileAvailableDefersMetaMapForUnseenTarget(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	avail, err := r.FileAvailable(ctx, "session-a", "hash://sha256/meta", "hash://sha256/target")
	require.NoError(t, err)
	require.Equal(t, AvailDeferred, avail)
}

func TestFileAvailableNotFoundWhenTargetAlreadySubmitted(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	targetURI := "hash://sha256/target001"
	_, err := r.FileAvailable(ctx, "session-a", targetURI, "")
	require.NoError(t, err)

	avail, err := r.FileAvailable(ctx, "session-a", "hash://sha256/meta001", targetURI)
	require.NoError(t, err)
	require.Equal(t, AvailNotFound, avail)
}
