// Package repo implements the Repository component: it owns the
// key-value environment, the on-disk data/tmp/cache directories, the
// session cache, and the submission-sequence notifier every other
// component is handed a reference to.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	logging "github.com/ipfs/go-log/v2"

	"github.com/sln-repo/strongline/internal/errs"
	"github.com/sln-repo/strongline/internal/kvstore"
	"github.com/sln-repo/strongline/internal/notify"
	"github.com/sln-repo/strongline/internal/schema"
)

var log = logging.Logger("repo")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const kvBucket = "kv"

// KVBucket is the single flat keyspace every table is composited into,
// exposed so the filter engine can drive its own cursors directly over
// the kvstore without duplicating the Repository's write path.
const KVBucket = kvBucket

// Dirs holds the repository's on-disk layout, sharded by first two hex
// characters of internal hash for the data and cache directories.
type Dirs struct {
	Root string
	Data string // data/<xx>/<hash>
	Tmp  string // tmp/<nonce>
	Cache string
	DB   string
}

func NewDirs(root string) Dirs {
	return Dirs{
		Root:  root,
		Data:  filepath.Join(root, "data"),
		Tmp:   filepath.Join(root, "tmp"),
		Cache: filepath.Join(root, "cache"),
		DB:    filepath.Join(root, "db"),
	}
}

func (d Dirs) ensure() error {
	for _, dir := range []string{d.Data, d.Tmp, d.Cache, d.DB} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("repo: create %s: %w", dir, err)
		}
	}
	return nil
}

// DataPath returns the on-disk path for a File's canonical internal hash,
// sharded by its first two hex characters.
func (d Dirs) DataPath(internalHash string) string {
	if len(internalHash) < 2 {
		return filepath.Join(d.Data, "_", internalHash)
	}
	return filepath.Join(d.Data, internalHash[:2], internalHash)
}

// Repository is the process-wide singleton every Session, Submission, and
// query is handed. Session cache mutation is the only process-wide
// mutable structure outside the kv environment, guarded by mu.
type Repository struct {
	Dirs    Dirs
	env     *kvstore.Env
	Notify  *notify.SeqNotifier
	PublicRead bool

	mu       sync.Mutex
	sessions map[string]Session
}

func Open(root string, publicRead bool) (*Repository, error) {
	dirs := NewDirs(root)
	if err := dirs.ensure(); err != nil {
		return nil, err
	}

	env, err := kvstore.Open(filepath.Join(dirs.DB, "sln.db"), []string{kvBucket})
	if err != nil {
		return nil, err
	}

	log.Infof("repository opened at %s", root)
	return &Repository{
		Dirs:       dirs,
		env:        env,
		Notify:     notify.New(),
		PublicRead: publicRead,
		sessions:   make(map[string]Session),
	}, nil
}

func (r *Repository) Close() error {
	return r.env.Close()
}

// EnvView runs fn in a read-only transaction, exposed so the filter and
// query engines can drive their own cursors without the Repository
// mediating every read.
func (r *Repository) EnvView(ctx context.Context, fn func(*kvstore.Tx) error) error {
	return r.env.View(ctx, fn)
}

// EnvUpdate runs fn in the single writer transaction.
func (r *Repository) EnvUpdate(ctx context.Context, fn func(*kvstore.Tx) error) error {
	return r.env.Update(ctx, fn)
}

// txSideTable adapts a kv transaction's bucket to schema.SideTable for
// the duration of one Tx, keyed under TableStrings.
type txSideTable struct {
	tx *kvstore.Tx
}

func (s txSideTable) Lookup(key []byte) ([]byte, bool, error) {
	v := s.tx.Bucket(kvBucket).Get(sideTableKey(key))
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s txSideTable) Put(e schema.SideTableEntry) error {
	b := s.tx.Bucket(kvBucket)
	if existing := b.Get(e.Key); existing != nil {
		return nil // write-once: first writer wins
	}
	return b.Put(e.Key, e.Value)
}

func sideTableKey(inlineEnc []byte) []byte {
	k := schema.NewKey(schema.TableStrings)
	k.WithBytes(inlineEnc)
	return k.Bytes()
}

// nextID returns and persists the next free id for table, starting at 1.
func nextID(tx *kvstore.Tx, table schema.Table) (uint64, error) {
	b := tx.Bucket(kvBucket)
	key := schema.NewKey(schema.TableNextID).WithUint(uint64(table)).Bytes()
	v := b.Get(key)
	var next uint64 = 1
	if v != nil {
		cur, _ := schema.Uvarint(v)
		next = cur + 1
	}
	if err := b.Put(key, schema.AppendUvarint(nil, next)); err != nil {
		return 0, err
	}
	return next, nil
}

// InternURI returns the id for value, creating and interning it if it
// does not already exist.
func (r *Repository) InternURI(ctx context.Context, value string) (id uint64, err error) {
	err = r.env.Update(ctx, func(tx *kvstore.Tx) error {
		id, err = internURI(tx, value)
		return err
	})
	return id, err
}

func internURI(tx *kvstore.Tx, value string) (uint64, error) {
	b := tx.Bucket(kvBucket)
	side := txSideTable{tx: tx}

	lookupKB, sideEntry := schema.NewKey(schema.TableURIsByValue).WithString(value)
	if sideEntry != nil {
		if err := side.Put(schema.SideTableEntry{Key: sideTableKey(sideEntry.Key), Value: sideEntry.Value}); err != nil {
			return 0, err
		}
	}
	if v := b.Get(lookupKB.Bytes()); v != nil {
		id, _ := schema.Uvarint(v)
		return id, nil
	}

	id, err := nextID(tx, schema.TableURIs)
	if err != nil {
		return 0, err
	}
	if err := b.Put(lookupKB.Bytes(), schema.AppendUvarint(nil, id)); err != nil {
		return 0, err
	}
	uriKey := schema.NewKey(schema.TableURIs).WithUint(id).Bytes()
	if err := b.Put(uriKey, []byte(value)); err != nil {
		return 0, err
	}
	return id, nil
}

// URIValue resolves a URI id back to its byte string.
func (r *Repository) URIValue(ctx context.Context, id uint64) (value string, err error) {
	err = r.env.View(ctx, func(tx *kvstore.Tx) error {
		v := tx.Bucket(kvBucket).Get(schema.NewKey(schema.TableURIs).WithUint(id).Bytes())
		if v == nil {
			return errs.Wrap(errs.NOTFOUND, "uri id %d", id)
		}
		value = string(v)
		return nil
	})
	return value, err
}

// GetFile looks up a File by internal id.
func (r *Repository) GetFile(ctx context.Context, id uint64) (f File, err error) {
	err = r.env.View(ctx, func(tx *kvstore.Tx) error {
		v := tx.Bucket(kvBucket).Get(schema.NewKey(schema.TableFiles).WithUint(id).Bytes())
		if v == nil {
			return errs.Wrap(errs.NOTFOUND, "file id %d", id)
		}
		return json.Unmarshal(v, &f)
	})
	return f, err
}

// GetFileByHash resolves a File by its canonical internal hash.
func (r *Repository) GetFileByHash(ctx context.Context, internalHash string) (f File, err error) {
	return r.GetFileByURI(ctx, "hash://sha256/"+internalHash)
}

// GetFileByURI resolves a File by any alias URI value it was interned
// under, not just its canonical sha256 hash — used by the HTTP fetch
// route, which accepts any configured digest algorithm.
func (r *Repository) GetFileByURI(ctx context.Context, uriValue string) (f File, err error) {
	err = r.env.View(ctx, func(tx *kvstore.Tx) error {
		b := tx.Bucket(kvBucket)
		lookupKB, _ := schema.NewKey(schema.TableURIsByValue).WithString(uriValue)
		v := b.Get(lookupKB.Bytes())
		if v == nil {
			return errs.Wrap(errs.NOTFOUND, "uri %s", uriValue)
		}
		uriID, _ := schema.Uvarint(v)

		// walk TableURIFiles prefix (uriID) to find the linked file id.
		prefixKB := schema.NewKey(schema.TableURIFiles).WithUint(uriID)
		min, max := prefixKB.Range()
		c := b.Cursor()
		k, _ := c.Seek(min)
		if k == nil || (max != nil && string(k) >= string(max)) {
			return errs.Wrap(errs.NOTFOUND, "no file linked to %s", uriValue)
		}
		// key layout: table | uriID | fileID
		rest := k[len(schema.TablePrefix(schema.TableURIFiles)):]
		_, n := schema.Uvarint(rest)
		fileID, _ := schema.Uvarint(rest[n:])

		fv := b.Get(schema.NewKey(schema.TableFiles).WithUint(fileID).Bytes())
		if fv == nil {
			return errs.Wrap(errs.PANIC, "dangling file-uri link for file %d", fileID)
		}
		return json.Unmarshal(fv, &f)
	})
	return f, err
}
