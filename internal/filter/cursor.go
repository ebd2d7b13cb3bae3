package filter

import (
	"math"

	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/schema"
)

// Dir is the iteration direction every cursor honors.
type Dir int

const (
	Forward  Dir = 1
	Backward Dir = -1
)

// Pair is one (sort-id, file-id) result, ordered by sort-id then
// file-id. Since a submission-sequence id is assigned to exactly one
// File, SortID alone fully determines ordering here; FileID is carried
// for cursor resumption and pagination.
type Pair struct {
	SortID uint64
	FileID uint64
}

// MaxPos is the sentinel pagination position meaning "past every real
// entry", used to start a backward scan from the newest result.
const MaxPos = math.MaxUint64

var seqTablePrefix = schema.TablePrefix(schema.TableSubmissionSeq)

// Cursor walks (sort-id, file-id) pairs satisfying a Filter, honoring a
// seek/step/current contract every filter node implements.
type Cursor struct {
	tx      *kvstore.Tx
	filter  *Filter
	dir     Dir
	kv      *kvstore.Cursor
	started bool
	cur     Pair
	ok      bool
}

// NewCursor builds a cursor over filter within an open transaction.
func NewCursor(tx *kvstore.Tx, f *Filter) *Cursor {
	return &Cursor{tx: tx, filter: f, kv: tx.Bucket(repo.KVBucket).Cursor()}
}

// Seek positions the cursor so the next Step returns the first matching
// pair strictly beyond (sortID, fileID) in direction dir. (0, 0,
// Forward) starts from the oldest result; (MaxPos, MaxPos, Backward)
// starts from the newest.
func (c *Cursor) Seek(sortID, fileID uint64, dir Dir) {
	c.dir = dir
	c.started = false
	c.ok = false
	c.cur = Pair{SortID: sortID, FileID: fileID}
}

// Current returns the last pair Step returned, if any.
func (c *Cursor) Current() (Pair, bool) { return c.cur, c.ok }

// Step advances the cursor to the next matching pair in its direction,
// returning ok=false once exhausted.
func (c *Cursor) Step() (Pair, bool, error) {
	for {
		key, value, err := c.advanceRaw()
		if err != nil {
			return Pair{}, false, err
		}
		if key == nil {
			c.ok = false
			return Pair{}, false, nil
		}
		seq := repo.SeqFromKey(key)
		fileID := repo.SeqEntryFileID(value)

		match, err := c.filter.Matches(c.tx, fileID)
		if err != nil {
			return Pair{}, false, err
		}
		if match {
			c.cur = Pair{SortID: seq, FileID: fileID}
			c.ok = true
			return c.cur, true, nil
		}
	}
}

func (c *Cursor) advanceRaw() (key, value []byte, err error) {
	if !c.started {
		c.started = true
		if c.dir == Forward {
			seekKey := schema.NewKey(schema.TableSubmissionSeq).WithUint(c.cur.SortID + 1).Bytes()
			key, value = c.kv.Seek(seekKey)
		} else {
			seekKey := schema.NewKey(schema.TableSubmissionSeq).WithUint(c.cur.SortID).Bytes()
			k, v := c.kv.Seek(seekKey)
			if k == nil {
				key, value = c.kv.Last()
			} else {
				key, value = c.kv.Prev()
			}
		}
	} else if c.dir == Forward {
		key, value = c.kv.Next()
	} else {
		key, value = c.kv.Prev()
	}

	if key == nil || !withinTable(key) {
		return nil, nil, nil
	}
	return key, value, nil
}

func withinTable(key []byte) bool {
	return len(key) >= len(seqTablePrefix) && string(key[:len(seqTablePrefix)]) == string(seqTablePrefix)
}

// Batch reads up to count matching pairs in the cursor's direction,
// advancing it past the last returned pair.
func (c *Cursor) Batch(count int) ([]Pair, error) {
	out := make([]Pair, 0, count)
	for len(out) < count {
		pair, ok, err := c.Step()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, pair)
	}
	return out, nil
}
