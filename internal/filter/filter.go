// Package filter implements a composable filter tree and its
// seek/step/current cursor contract over the submission-sequence
// ordered index.
package filter

import (
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/metafile"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/schema"
)

type Kind int

const (
	KindAll Kind = iota
	KindMetaFile
	KindFileType
	KindLinksTo
	KindLinkedFrom
	KindAnd
	KindOr
	KindNot
	KindBadge
)

// Filter is a node in the composable filter tree.
type Filter struct {
	Kind     Kind
	FileType string
	URI      string
	Field    string
	Value    string
	Children []*Filter
}

func All() *Filter                  { return &Filter{Kind: KindAll} }
func MetaFile() *Filter             { return &Filter{Kind: KindMetaFile} }
func FileType(t string) *Filter     { return &Filter{Kind: KindFileType, FileType: t} }
func LinksTo(uri string) *Filter    { return &Filter{Kind: KindLinksTo, URI: uri} }
func LinkedFrom(uri string) *Filter { return &Filter{Kind: KindLinkedFrom, URI: uri} }
func Badge(field, value string) *Filter {
	return &Filter{Kind: KindBadge, Field: field, Value: value}
}
func And(children ...*Filter) *Filter { return &Filter{Kind: KindAnd, Children: children} }
func Or(children ...*Filter) *Filter  { return &Filter{Kind: KindOr, Children: children} }
func Not(child *Filter) *Filter       { return &Filter{Kind: KindNot, Children: []*Filter{child}} }

// Matches evaluates the filter against fileID within an open
// transaction. Composite nodes recurse into their children: a per-file
// boolean predicate computes the same result a merge-join/zig-zag/
// complement over child cursors would (at the cost of re-evaluating
// leaves per candidate rather than intersecting sorted posting lists),
// acceptable at the scale a single embedded writer targets.
func (f *Filter) Matches(tx *kvstore.Tx, fileID uint64) (bool, error) {
	switch f.Kind {
	case KindAll:
		return true, nil

	case KindMetaFile:
		file, ok, err := repo.FileByIDTx(tx, fileID)
		if err != nil || !ok {
			return false, err
		}
		return metafile.IsMetaFileType(file.MIMEType), nil

	case KindFileType:
		file, ok, err := repo.FileByIDTx(tx, fileID)
		if err != nil || !ok {
			return false, err
		}
		return file.MIMEType == f.FileType, nil

	case KindBadge:
		// A Badge matches a File if any of its alias URIs is the target
		// of a tag triple field=value.
		uriIDs, err := repo.FileURIIDsTx(tx, fileID)
		if err != nil {
			return false, err
		}
		for _, uriID := range uriIDs {
			has, err := repo.TagTargetHasFieldValueTx(tx, uriID, f.Field, f.Value)
			if err != nil {
				return false, err
			}
			if has {
				return true, nil
			}
		}
		return false, nil

	case KindLinksTo:
		// fileID is a meta-file whose tags target f.URI.
		uriID, ok, err := repo.URIIDByValueTx(tx, f.URI)
		if err != nil || !ok {
			return false, err
		}
		sources, err := repo.SourceMetaFileIDsForTargetTx(tx, uriID)
		if err != nil {
			return false, err
		}
		return sources[fileID], nil

	case KindLinkedFrom:
		// fileID is tagged by a meta-file at f.URI.
		sourceURIID, ok, err := repo.URIIDByValueTx(tx, f.URI)
		if err != nil || !ok {
			return false, err
		}
		sourceFile, ok, err := fileIDForURI(tx, f.URI)
		if err != nil || !ok {
			_ = sourceURIID
			return false, err
		}
		targets, err := repo.TargetURIIDsForSourceTx(tx, sourceFile)
		if err != nil {
			return false, err
		}
		uriIDs, err := repo.FileURIIDsTx(tx, fileID)
		if err != nil {
			return false, err
		}
		for _, uriID := range uriIDs {
			if targets[uriID] {
				return true, nil
			}
		}
		return false, nil

	case KindAnd:
		for _, c := range f.Children {
			ok, err := c.Matches(tx, fileID)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case KindOr:
		for _, c := range f.Children {
			ok, err := c.Matches(tx, fileID)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case KindNot:
		ok, err := f.Children[0].Matches(tx, fileID)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, nil
	}
}

// fileIDForURI resolves the File owning uri as one of its aliases.
func fileIDForURI(tx *kvstore.Tx, uri string) (uint64, bool, error) {
	uriID, ok, err := repo.URIIDByValueTx(tx, uri)
	if err != nil || !ok {
		return 0, false, err
	}
	b := tx.Bucket(repo.KVBucket)
	prefixKB := schema.NewKey(schema.TableURIFiles).WithUint(uriID)
	min, max := prefixKB.Range()
	c := b.Cursor()
	k, _ := c.Seek(min)
	if k == nil || (max != nil && string(k) >= string(max)) {
		return 0, false, nil
	}
	rest := k[len(schema.TablePrefix(schema.TableURIFiles)):]
	_, n := schema.Uvarint(rest)
	fileID, _ := schema.Uvarint(rest[n:])
	return fileID, true, nil
}
