package repo

import (
	"context"
	"os"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/schema"
)

// FileSubmission is everything CommitBatch needs to link a finalized
// Submission into the index: the hashed temp file plus its metadata and
// any tag triples a co-submitted meta-file produced against it.
type FileSubmission struct {
	TempPath     string
	InternalHash string
	MIMEType     string
	Size         int64
	URIs         []string
	OwnerID      uint64
	Public       bool
	Tags         []PendingTag
}

// PendingTag names its target by URI value; CommitBatch interns it.
type PendingTag struct {
	TargetURI string
	Field     string
	Value     string
}

// CommitBatch links every submission's temp file into place, indexes it,
// assigns submission-sequence ids, and commits as a single transaction.
// Re-submitting content whose internal hash already exists is
// idempotent: the existing File and its original sequence are returned,
// and the new temp file is discarded without creating a duplicate entry.
func (r *Repository) CommitBatch(ctx context.Context, subs []FileSubmission) ([]File, error) {
	results := make([]File, len(subs))
	var maxSeq uint64

	err := r.env.Update(ctx, func(tx *kvstore.Tx) error {
		for i, sub := range subs {
			f, seq, err := commitOne(tx, r.Dirs, sub)
			if err != nil {
				return err
			}
			results[i] = f
			if seq > maxSeq {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if maxSeq > 0 {
		r.Notify.Advance(maxSeq)
	}
	return results, nil
}

func commitOne(tx *kvstore.Tx, dirs Dirs, sub FileSubmission) (File, uint64, error) {
	b := tx.Bucket(kvBucket)

	if existing, ok, err := lookupFileByHash(tx, sub.InternalHash); err != nil {
		return File{}, 0, err
	} else if ok {
		os.Remove(sub.TempPath)
		return existing, existing.Seq, nil
	}

	dst := dirs.DataPath(sub.InternalHash)
	if err := linkIntoPlace(sub.TempPath, dst); err != nil {
		return File{}, 0, errs.Wrap(errs.EIO, "link %s: %v", dst, err)
	}
	os.Remove(sub.TempPath)

	fileID, err := nextID(tx, schema.TableFiles)
	if err != nil {
		return File{}, 0, err
	}

	for _, uriValue := range sub.URIs {
		uriID, err := internURI(tx, uriValue)
		if err != nil {
			return File{}, 0, err
		}
		if err := linkFileURI(tx, fileID, uriID); err != nil {
			return File{}, 0, err
		}
	}

	seq, err := nextID(tx, schema.TableSubmissionSeq)
	if err != nil {
		return File{}, 0, err
	}
	seqKey := schema.NewKey(schema.TableSubmissionSeq).WithUint(seq).Bytes()
	if err := b.Put(seqKey, schema.AppendUvarint(nil, fileID)); err != nil {
		return File{}, 0, err
	}

	f := File{
		ID:           fileID,
		InternalHash: sub.InternalHash,
		MIMEType:     sub.MIMEType,
		Size:         sub.Size,
		Seq:          seq,
		OwnerID:      sub.OwnerID,
		Public:       sub.Public,
	}
	enc, err := json.Marshal(f)
	if err != nil {
		return File{}, 0, err
	}
	if err := b.Put(schema.NewKey(schema.TableFiles).WithUint(fileID).Bytes(), enc); err != nil {
		return File{}, 0, err
	}

	for _, tag := range sub.Tags {
		targetID, err := internURI(tx, tag.TargetURI)
		if err != nil {
			return File{}, 0, err
		}
		if err := insertTagTriple(tx, TagTriple{
			TargetURIID:      targetID,
			Field:            tag.Field,
			Value:            tag.Value,
			SourceMetaFileID: fileID,
		}); err != nil {
			return File{}, 0, err
		}
		if err := drainMetaMap(tx, targetID); err != nil {
			return File{}, 0, err
		}
	}

	return f, seq, nil
}

func lookupFileByHash(tx *kvstore.Tx, internalHash string) (File, bool, error) {
	b := tx.Bucket(kvBucket)
	uriValue := "hash://sha256/" + internalHash
	lookupKB, _ := schema.NewKey(schema.TableURIsByValue).WithString(uriValue)
	v := b.Get(lookupKB.Bytes())
	if v == nil {
		return File{}, false, nil
	}
	uriID, _ := schema.Uvarint(v)

	prefixKB := schema.NewKey(schema.TableURIFiles).WithUint(uriID)
	min, max := prefixKB.Range()
	c := b.Cursor()
	k, _ := c.Seek(min)
	if k == nil || (max != nil && string(k) >= string(max)) {
		return File{}, false, nil
	}
	rest := k[len(schema.TablePrefix(schema.TableURIFiles)):]
	_, n := schema.Uvarint(rest)
	fileID, _ := schema.Uvarint(rest[n:])

	fv := b.Get(schema.NewKey(schema.TableFiles).WithUint(fileID).Bytes())
	if fv == nil {
		return File{}, false, errs.Wrap(errs.PANIC, "dangling file-uri link for file %d", fileID)
	}
	var f File
	if err := json.Unmarshal(fv, &f); err != nil {
		return File{}, false, err
	}
	return f, true, nil
}

func linkFileURI(tx *kvstore.Tx, fileID, uriID uint64) error {
	b := tx.Bucket(kvBucket)
	k1 := schema.NewKey(schema.TableFileURIs).WithUint(fileID).WithUint(uriID).Bytes()
	k2 := schema.NewKey(schema.TableURIFiles).WithUint(uriID).WithUint(fileID).Bytes()
	if err := b.Put(k1, []byte{}); err != nil {
		return err
	}
	return b.Put(k2, []byte{})
}

// linkIntoPlace hard-links src into dst, treating EEXIST as success per
// the Submission Store operation's idempotence contract.
func linkIntoPlace(src, dst string) error {
	if err := os.MkdirAll(parentDir(dst), 0o700); err != nil {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return os.Chmod(dst, 0o400)
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

func insertTagTriple(tx *kvstore.Tx, t TagTriple) error {
	b := tx.Bucket(kvBucket)
	byTarget, fieldEntry := schema.NewKey(schema.TableTagsByTarget).WithUint(t.TargetURIID).WithString(t.Field)
	byTarget, valueEntry := byTarget.WithString(t.Value)
	byTarget = byTarget.WithUint(t.SourceMetaFileID)
	for _, e := range []*schema.SideTableEntry{fieldEntry, valueEntry} {
		if e != nil {
			if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(e.Key), Value: e.Value}); err != nil {
				return err
			}
		}
	}
	if err := b.Put(byTarget.Bytes(), []byte{}); err != nil {
		return err
	}

	byField, fe2 := schema.NewKey(schema.TableTagsByField).WithString(t.Field)
	byField, ve2 := byField.WithString(t.Value)
	byField = byField.WithUint(t.TargetURIID).WithUint(t.SourceMetaFileID)
	for _, e := range []*schema.SideTableEntry{fe2, ve2} {
		if e != nil {
			if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(e.Key), Value: e.Value}); err != nil {
				return err
			}
		}
	}
	return b.Put(byField.Bytes(), []byte{})
}

// drainMetaMap removes every meta-map entry deferred against targetID,
// inside the same transaction that indexes the target. It inserts no
// tag triples itself: a meta-map entry carries no tag data, so tags
// appear only when the meta-file's own submission is committed.
func drainMetaMap(tx *kvstore.Tx, targetID uint64) error {
	b := tx.Bucket(kvBucket)
	prefixKB := schema.NewKey(schema.TableMetaMap).WithUint(targetID)
	min, max := prefixKB.Range()
	c := b.Cursor()
	var drained [][]byte
	for k, _ := c.Seek(min); k != nil; k, _ = c.Next() {
		if max != nil && string(k) >= string(max) {
			break
		}
		drained = append(drained, append([]byte(nil), k...))
	}
	for _, k := range drained {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// DeferMetaMap records that observedURIID (a meta-file) references
// targetURIID, which is not yet locally present.
func (r *Repository) DeferMetaMap(ctx context.Context, observedURIID, targetURIID uint64) error {
	return r.env.Update(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		k := schema.NewKey(schema.TableMetaMap).WithUint(targetURIID).WithUint(observedURIID).Bytes()
		return b.Put(k, []byte{})
	})
}
