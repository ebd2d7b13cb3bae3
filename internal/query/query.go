// Package query implements the Query Streamer: batching filter output
// into text/uri-list chunks, then tailing live submissions once the
// historical results are exhausted.
package query

import (
	"context"
	"fmt"
	"io"

	logging "github.com/ipfs/go-log/v2"

	"github.com/sln-repo/strongline/internal/filter"
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/metrics"
	"github.com/sln-repo/strongline/internal/repo"
)

var log = logging.Logger("query")

// QueryBatchSize bounds how many pairs one filter pass reads before
// flushing to the client and re-checking for cancellation.
const QueryBatchSize = 64

// Options carries a query's pagination/resumption state.
type Options struct {
	SortID uint64
	FileID uint64
	Dir    filter.Dir
	// BatchSize overrides QueryBatchSize for this query, e.g. to honor a
	// caller-supplied ?count= page-size hint. Zero means QueryBatchSize.
	BatchSize int
}

// Stream writes one URI + CRLF chunk per matching result, pursuing tail
// mode when opts.Dir is Forward and the historical results are
// exhausted. It returns when the context is canceled, a write fails, or
// (for a backward query) the historical scan completes.
func Stream(ctx context.Context, r *repo.Repository, f *filter.Filter, opts Options, w io.Writer) error {
	outdir := opts.Dir
	sortID, fileID := opts.SortID, opts.FileID
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = QueryBatchSize
	}

	dirLabel := "forward"
	if outdir == filter.Backward {
		dirLabel = "backward"
	}

	for {
		batch, err := readBatch(ctx, r, f, sortID, fileID, outdir, batchSize)
		if err != nil {
			return err
		}
		metrics.QueryBatchesServed.WithLabelValues(dirLabel).Inc()

		for _, pair := range batch {
			uri, err := primaryURIFor(ctx, r, pair.FileID)
			if err != nil {
				log.Warnf("resolving file %d: %v", pair.FileID, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\r\n", uri); err != nil {
				return nil // connection half-written; nothing more to do
			}
			sortID, fileID = pair.SortID, pair.FileID
		}

		if fl, ok := w.(interface{ Flush() error }); ok {
			if err := fl.Flush(); err != nil {
				return nil // connection half-written; nothing more to do
			}
		}

		if len(batch) == batchSize {
			if ctx.Err() != nil {
				return nil
			}
			continue // more historical results immediately available
		}

		if outdir == filter.Backward {
			return nil
		}

		if r.Notify.Wait(ctx, sortID) {
			metrics.TailWakeups.WithLabelValues("advance").Inc()
		} else {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			metrics.TailWakeups.WithLabelValues("heartbeat").Inc()
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return nil
			}
		}
	}
}

func readBatch(ctx context.Context, r *repo.Repository, f *filter.Filter, sortID, fileID uint64, dir filter.Dir, batchSize int) ([]filter.Pair, error) {
	var batch []filter.Pair
	err := r.EnvView(ctx, func(tx *kvstore.Tx) error {
		cur := filter.NewCursor(tx, f)
		cur.Seek(sortID, fileID, dir)
		b, err := cur.Batch(batchSize)
		batch = b
		return err
	})
	return batch, err
}

func primaryURIFor(ctx context.Context, r *repo.Repository, fileID uint64) (string, error) {
	f, err := r.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	return "hash://sha256/" + f.InternalHash, nil
}
