package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/repo"
)

func openTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// storeFile commits a single file with the given hash/content-type and
// optional tags targeting its own primary URI, returning the File.
func storeFile(t *testing.T, r *repo.Repository, hash, mimeType string, tags ...repo.PendingTag) repo.File {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(r.Dirs.Tmp, hash)
	require.NoError(t, os.WriteFile(path, []byte("content-"+hash), 0o400))

	uriVal := "hash://sha256/" + hash
	for i := range tags {
		if tags[i].TargetURI == "" {
			tags[i].TargetURI = uriVal
		}
	}

	files, err := r.CommitBatch(ctx, []repo.FileSubmission{{
		TempPath:     path,
		InternalHash: hash,
		MIMEType:     mimeType,
		Size:         int64(len("content-" + hash)),
		URIs:         []string{uriVal},
		Public:       true,
		Tags:         tags,
	}})
	require.NoError(t, err)
	return files[0]
}

func withTx(t *testing.T, r *repo.Repository, fn func(tx *kvstore.Tx)) {
	t.Helper()
	err := r.EnvView(context.Background(), fn)
	require.NoError(t, err)
}

func TestParseUserFilterEmptyIsAll(t *testing.T) {
	f, err := ParseUserFilter("")
	require.NoError(t, err)
	require.Equal(t, KindAll, f.Kind)
}

func TestParseUserFilterBadge(t *testing.T) {
	f, err := ParseUserFilter("tag:greeting")
	require.NoError(t, err)
	require.Equal(t, KindBadge, f.Kind)
	require.Equal(t, "tag", f.Field)
	require.Equal(t, "greeting", f.Value)
}

func TestParseUserFilterBooleans(t *testing.T) {
	f, err := ParseUserFilter("tag:a and tag:b")
	require.NoError(t, err)
	require.Equal(t, KindAnd, f.Kind)
	require.Len(t, f.Children, 2)

	f, err = ParseUserFilter("tag:a or tag:b")
	require.NoError(t, err)
	require.Equal(t, KindOr, f.Kind)

	f, err = ParseUserFilter("not tag:a")
	require.NoError(t, err)
	require.Equal(t, KindNot, f.Kind)

	f, err = ParseUserFilter("(tag:a or tag:b) and not tag:c")
	require.NoError(t, err)
	require.Equal(t, KindAnd, f.Kind)
}

func TestParseUserFilterQuotedValue(t *testing.T) {
	f, err := ParseUserFilter(`tag:"hello world"`)
	require.NoError(t, err)
	require.Equal(t, "hello world", f.Value)
}

func TestParseUserFilterUnparseableReturnsEINVAL(t *testing.T) {
	_, err := ParseUserFilter("(unclosed")
	require.Error(t, err)
	_, err = ParseUserFilter(`tag:"unterminated`)
	require.Error(t, err)
}

func TestBuildFromJSON(t *testing.T) {
	doc := `{"kind":"and","children":[{"kind":"badge","field":"tag","value":"x"},{"kind":"not","children":[{"kind":"metafile"}]}]}`
	f, err := BuildFromJSON([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, KindAnd, f.Kind)
	require.Equal(t, KindNot, f.Children[1].Kind)
}

func TestBuildFromJSONMalformedReturnsENOMEM(t *testing.T) {
	_, err := BuildFromJSON([]byte("{not json"))
	require.Error(t, err)
}

func TestCursorOrderingAndPagination(t *testing.T) {
	r := openTestRepo(t)
	a := storeFile(t, r, "aaaa", "text/plain")
	b := storeFile(t, r, "bbbb", "text/plain")
	c := storeFile(t, r, "cccc", "text/plain")

	var firstWindow, secondWindow []Pair
	withTx(t, r, func(tx *kvstore.Tx) {
		cur := NewCursor(tx, All())
		cur.Seek(0, 0, Forward)
		batch, err := cur.Batch(2)
		require.NoError(t, err)
		firstWindow = batch
	})
	require.Len(t, firstWindow, 2)
	require.Equal(t, a.Seq, firstWindow[0].SortID)
	require.Equal(t, b.Seq, firstWindow[1].SortID)

	last := firstWindow[len(firstWindow)-1]
	withTx(t, r, func(tx *kvstore.Tx) {
		cur := NewCursor(tx, All())
		cur.Seek(last.SortID, last.FileID, Forward)
		batch, err := cur.Batch(10)
		require.NoError(t, err)
		secondWindow = batch
	})
	require.Len(t, secondWindow, 1)
	require.Equal(t, c.Seq, secondWindow[0].SortID)
}

func TestCursorBackwardStartsFromNewest(t *testing.T) {
	r := openTestRepo(t)
	storeFile(t, r, "1111", "text/plain")
	storeFile(t, r, "2222", "text/plain")
	last := storeFile(t, r, "3333", "text/plain")

	var got []Pair
	withTx(t, r, func(tx *kvstore.Tx) {
		cur := NewCursor(tx, All())
		cur.Seek(MaxPos, MaxPos, Backward)
		batch, err := cur.Batch(10)
		require.NoError(t, err)
		got = batch
	})
	require.Len(t, got, 3)
	require.Equal(t, last.Seq, got[0].SortID)
}

func TestBadgeFilterMatchesTaggedFile(t *testing.T) {
	r := openTestRepo(t)
	f := storeFile(t, r, "deadbeef", "text/plain", repo.PendingTag{Field: "tag", Value: "greeting"})
	storeFile(t, r, "cafebabe", "text/plain")

	var got []Pair
	withTx(t, r, func(tx *kvstore.Tx) {
		cur := NewCursor(tx, Badge("tag", "greeting"))
		cur.Seek(0, 0, Forward)
		batch, err := cur.Batch(10)
		require.NoError(t, err)
		got = batch
	})
	require.Len(t, got, 1)
	require.Equal(t, f.ID, got[0].FileID)
}

func TestMetaFileFilter(t *testing.T) {
	r := openTestRepo(t)
	storeFile(t, r, "regular1", "text/plain")
	meta := storeFile(t, r, "meta0001", "text/x-sln-meta")

	var got []Pair
	withTx(t, r, func(tx *kvstore.Tx) {
		cur := NewCursor(tx, MetaFile())
		cur.Seek(0, 0, Forward)
		batch, err := cur.Batch(10)
		require.NoError(t, err)
		got = batch
	})
	require.Len(t, got, 1)
	require.Equal(t, meta.ID, got[0].FileID)
}
