package repo

import (
	"context"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/schema"
)

// Availability is the outcome of FileAvailable.
type Availability int

const (
	AvailNotFound  Availability = iota // neither submitted nor seen by another session; caller should fetch uri now
	AvailNoSession                     // known to another session; now recorded as submitted by this one
	AvailSubmitted                     // already submitted by this session
	AvailDeferred                      // target not yet submitted; a Meta-map entry was recorded instead of fetching
)

// FileAvailable decides whether uri needs to be fetched by this session.
// If the target's owning file isn't submitted yet, it records a Meta-map
// deferral and returns AvailDeferred instead of NotFound, so a caller
// walking a meta-file's targets doesn't fetch uri ahead of its target —
// mirroring SLNSyncIngestMetaURI's dispatch, where a deferred insert
// short-circuits before the NOTFOUND fetch branch is reached.
func (r *Repository) FileAvailable(ctx context.Context, sessionSecret, uri string, target string) (Availability, error) {
	var result Availability
	err := r.env.Update(ctx, func(tx *kvstore.Tx) error {
		uriID, err := internURI(tx, uri)
		if err != nil {
			return err
		}

		if submitted, err := isSubmitted(tx, sessionSecret, uriID); err != nil {
			return err
		} else if submitted {
			result = AvailSubmitted
			return nil
		}

		if submittedByAnother, err := submittedByAnySession(tx, uriID); err != nil {
			return err
		} else if submittedByAnother {
			if err := drainMetaMapAsMeta(tx, uriID); err != nil {
				return err
			}
			if err := markSubmitted(tx, sessionSecret, uriID); err != nil {
				return err
			}
			result = AvailNoSession
			return nil
		}

		if target != "" {
			targetID, err := internURI(tx, target)
			if err != nil {
				return err
			}
			// Defer unless the target has already been submitted by this
			// same session; known-elsewhere-but-not-here still defers, so
			// the target is pulled in before its meta-file is.
			if submitted, err := isSubmitted(tx, sessionSecret, targetID); err != nil {
				return err
			} else if !submitted {
				k := schema.NewKey(schema.TableMetaMap).WithUint(targetID).WithUint(uriID).Bytes()
				if err := tx.Bucket(kvBucket).Put(k, []byte{}); err != nil {
					return err
				}
				result = AvailDeferred
				return nil
			}
		}
		if err := markSubmitted(tx, sessionSecret, uriID); err != nil {
			return err
		}
		result = AvailNotFound
		return nil
	})
	return result, err
}

func isSubmitted(tx *kvstore.Tx, sessionSecret string, uriID uint64) (bool, error) {
	b := tx.Bucket(kvBucket)
	kb, entry := schema.NewKey(schema.TableSubmittedFiles).WithString(sessionSecret)
	if entry != nil {
		if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(entry.Key), Value: entry.Value}); err != nil {
			return false, err
		}
	}
	k := kb.WithUint(uriID).Bytes()
	return b.Get(k) != nil, nil
}

func markSubmitted(tx *kvstore.Tx, sessionSecret string, uriID uint64) error {
	b := tx.Bucket(kvBucket)
	kb, entry := schema.NewKey(schema.TableSubmittedFiles).WithString(sessionSecret)
	if entry != nil {
		if err := (txSideTable{tx: tx}).Put(schema.SideTableEntry{Key: sideTableKey(entry.Key), Value: entry.Value}); err != nil {
			return err
		}
	}
	return b.Put(kb.WithUint(uriID).Bytes(), []byte{})
}

// submittedByAnySession scans the whole TableSubmittedFiles table for any
// row referencing uriID. The table is keyed (session, uri) so this is a
// full-table scan; acceptable at the scale a single-writer embedded store
// targets, since ownership is tracked per (session, URI) without a
// dedicated reverse index.
func submittedByAnySession(tx *kvstore.Tx, uriID uint64) (bool, error) {
	b := tx.Bucket(kvBucket)
	prefix := schema.TablePrefix(schema.TableSubmittedFiles)
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil; k, _ = c.Next() {
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		_, isNull, consumed, err := schema.DecodeString(k[len(prefix):], txSideTable{tx: tx})
		if err != nil || isNull {
			continue
		}
		rest := k[len(prefix)+consumed:]
		rowURIID, _ := schema.Uvarint(rest)
		if rowURIID == uriID {
			return true, nil
		}
	}
	return false, nil
}

// drainMetaMapAsMeta drains deferred Meta-maps keyed by a meta-URI that
// has just been recognized as known-elsewhere (the metaq consumer path's
// NoSession branch).
func drainMetaMapAsMeta(tx *kvstore.Tx, observedURIID uint64) error {
	// Meta-maps are keyed by target first; scanning for entries whose
	// second column equals observedURIID requires a table scan, same
	// tradeoff as submittedByAnySession.
	b := tx.Bucket(kvBucket)
	prefix := schema.TablePrefix(schema.TableMetaMap)
	c := b.Cursor()
	var drained [][]byte
	for k, _ := c.Seek(prefix); k != nil; k, _ = c.Next() {
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			break
		}
		rest := k[len(prefix):]
		_, n := schema.Uvarint(rest)
		observed, _ := schema.Uvarint(rest[n:])
		if observed == observedURIID {
			drained = append(drained, append([]byte(nil), k...))
		}
	}
	for _, k := range drained {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// AssertInvariant returns a PANIC-kind error, used where the scheduler
// protocol's own bookkeeping has been violated rather than a caller error.
func AssertInvariant(format string, args ...any) error {
	return errs.Wrap(errs.PANIC, format, args...)
}
