package repo

import (
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/schema"
)

// The functions below are read-only helpers the filter engine composes
// directly against an open kvstore.Tx, so it can build its own cursors
// without re-deriving the Repository's key layout.

// FileByIDTx decodes the File row for id within an already-open
// transaction.
func FileByIDTx(tx *kvstore.Tx, id uint64) (File, bool, error) {
	v := tx.Bucket(kvBucket).Get(schema.NewKey(schema.TableFiles).WithUint(id).Bytes())
	if v == nil {
		return File{}, false, nil
	}
	var f File
	if err := json.Unmarshal(v, &f); err != nil {
		return File{}, false, err
	}
	return f, true, nil
}

// URIIDByValueTx resolves an interned URI's id, or ok=false if unknown.
func URIIDByValueTx(tx *kvstore.Tx, value string) (uint64, bool, error) {
	b := tx.Bucket(kvBucket)
	kb, _ := schema.NewKey(schema.TableURIsByValue).WithString(value)
	v := b.Get(kb.Bytes())
	if v == nil {
		return 0, false, nil
	}
	id, _ := schema.Uvarint(v)
	return id, true, nil
}

// FileURIIDsTx returns every URI id aliasing fileID.
func FileURIIDsTx(tx *kvstore.Tx, fileID uint64) ([]uint64, error) {
	b := tx.Bucket(kvBucket)
	prefixKB := schema.NewKey(schema.TableFileURIs).WithUint(fileID)
	min, max := prefixKB.Range()
	c := b.Cursor()
	var ids []uint64
	for k, _ := c.Seek(min); k != nil; k, _ = c.Next() {
		if max != nil && string(k) >= string(max) {
			break
		}
		rest := k[len(schema.TablePrefix(schema.TableFileURIs)):]
		_, n := schema.Uvarint(rest)
		uriID, _ := schema.Uvarint(rest[n:])
		ids = append(ids, uriID)
	}
	return ids, nil
}

// TagTargetHasFieldValueTx reports whether targetURIID has any tag
// triple matching field=value exactly.
func TagTargetHasFieldValueTx(tx *kvstore.Tx, targetURIID uint64, field, value string) (bool, error) {
	b := tx.Bucket(kvBucket)
	prefixKB, _ := schema.NewKey(schema.TableTagsByTarget).WithUint(targetURIID).WithString(field)
	prefixKB2, _ := prefixKB.WithString(value)
	min, max := prefixKB2.Range()
	c := b.Cursor()
	k, _ := c.Seek(min)
	return k != nil && (max == nil || string(k) < string(max)), nil
}

// SourceMetaFileIDsForTargetTx returns the distinct source-meta-file ids
// of every tag triple whose target is targetURIID (LinksTo backlink).
func SourceMetaFileIDsForTargetTx(tx *kvstore.Tx, targetURIID uint64) (map[uint64]bool, error) {
	b := tx.Bucket(kvBucket)
	prefixKB := schema.NewKey(schema.TableTagsByTarget).WithUint(targetURIID)
	min, max := prefixKB.Range()
	c := b.Cursor()
	out := make(map[uint64]bool)
	for k, _ := c.Seek(min); k != nil; k, _ = c.Next() {
		if max != nil && string(k) >= string(max) {
			break
		}
		// key = table | targetURIID | field(string) | value(string) | sourceMetaFileID(uint)
		rest := k[len(schema.TablePrefix(schema.TableTagsByTarget)):]
		_, n := schema.Uvarint(rest)
		rest = rest[n:]
		_, _, n2, err := schema.DecodeString(rest, txSideTable{tx: tx})
		if err != nil {
			continue
		}
		rest = rest[n2:]
		_, _, n3, err := schema.DecodeString(rest, txSideTable{tx: tx})
		if err != nil {
			continue
		}
		rest = rest[n3:]
		sourceID, _ := schema.Uvarint(rest)
		out[sourceID] = true
	}
	return out, nil
}

// TargetURIIDsForSourceTx returns every target URI id tagged by
// sourceFileID (LinkedFrom), by scanning the whole tags-by-target table.
// There is no source-indexed table in this schema; acceptable at the
// scale a single embedded writer targets.
func TargetURIIDsForSourceTx(tx *kvstore.Tx, sourceFileID uint64) (map[uint64]bool, error) {
	b := tx.Bucket(kvBucket)
	prefix := schema.TablePrefix(schema.TableTagsByTarget)
	c := b.Cursor()
	out := make(map[uint64]bool)
	for k, _ := c.Seek(prefix); k != nil; k, _ = c.Next() {
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		rest := k[len(prefix):]
		targetID, n := schema.Uvarint(rest)
		rest = rest[n:]
		_, _, n2, err := schema.DecodeString(rest, txSideTable{tx: tx})
		if err != nil {
			continue
		}
		rest = rest[n2:]
		_, _, n3, err := schema.DecodeString(rest, txSideTable{tx: tx})
		if err != nil {
			continue
		}
		rest = rest[n3:]
		sourceID, _ := schema.Uvarint(rest)
		if sourceID == sourceFileID {
			out[targetID] = true
		}
	}
	return out, nil
}

// SubmissionSeqCursorRange returns the (min, max) bounding the whole
// submission-sequence table, for the filter engine's outer driving scan.
func SubmissionSeqCursorRange() (min, max []byte) {
	kb := schema.NewKey(schema.TableSubmissionSeq)
	return kb.Range()
}

// SeqEntryFileID decodes the file id stored at a TableSubmissionSeq row.
func SeqEntryFileID(value []byte) uint64 {
	id, _ := schema.Uvarint(value)
	return id
}

// SeqFromKey decodes the sequence number from a TableSubmissionSeq key.
func SeqFromKey(key []byte) uint64 {
	rest := key[len(schema.TablePrefix(schema.TableSubmissionSeq)):]
	seq, _ := schema.Uvarint(rest)
	return seq
}
