package query

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sln-repo/strongline/internal/filter"
	"github.com/sln-repo/strongline/internal/repo"
)

func openTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func commitFile(t *testing.T, r *repo.Repository, hash string) repo.File {
	t.Helper()
	path := filepath.Join(r.Dirs.Tmp, hash)
	require.NoError(t, os.WriteFile(path, []byte("x-"+hash), 0o400))
	files, err := r.CommitBatch(context.Background(), []repo.FileSubmission{{
		TempPath:     path,
		InternalHash: hash,
		MIMEType:     "text/plain",
		Size:         2,
		URIs:         []string{"hash://sha256/" + hash},
		Public:       true,
	}})
	require.NoError(t, err)
	return files[0]
}

func TestStreamBackwardReturnsAfterHistoricalScan(t *testing.T) {
	r := openTestRepo(t)
	commitFile(t, r, "aaaa")
	commitFile(t, r, "bbbb")

	var buf bytes.Buffer
	err := Stream(context.Background(), r, filter.All(), Options{SortID: filter.MaxPos, FileID: filter.MaxPos, Dir: filter.Backward}, &buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "hash://sha256/bbbb\r\n")
	require.Contains(t, buf.String(), "hash://sha256/aaaa\r\n")
}

func TestStreamForwardTailsNewSubmission(t *testing.T) {
	r := openTestRepo(t)
	commitFile(t, r, "1111")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		Stream(ctx, r, filter.All(), Options{Dir: filter.Forward}, syncWriter{&buf, &mu})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(buf.Bytes(), []byte("hash://sha256/1111\r\n"))
	}, time.Second, 10*time.Millisecond)

	commitFile(t, r, "2222")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(buf.Bytes(), []byte("hash://sha256/2222\r\n"))
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

type syncWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
