// Package kvstore wraps the on-disk transactional key-value engine the
// rest of the repository treats as an external collaborator: an ordered
// bucket store with cursor iteration and single-writer/multi-reader
// transactions. Every other package talks to Env/Tx/Bucket, never to
// bbolt directly, so the storage engine stays swappable behind this
// boundary.
package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	bolt "go.etcd.io/bbolt"
)

var log = logging.Logger("kvstore")

type config struct {
	timeout time.Duration
}

type Option func(*config)

// WithOpenTimeout bounds how long Open waits for the file lock held by
// another process.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func (c *config) apply(opts []Option) {
	for _, o := range opts {
		o(c)
	}
}

const defaultOpenTimeout = 5 * time.Second

// Env owns the single underlying database file and every named bucket
// within it.
type Env struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if absent) the database file at path, ensuring
// every bucket in buckets exists.
func Open(path string, buckets []string, opts ...Option) (*Env, error) {
	c := config{timeout: defaultOpenTimeout}
	c.apply(opts)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create db dir: %w", err)
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: c.timeout})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create buckets: %w", err)
	}

	log.Infof("opened %s with %d buckets", path, len(buckets))
	return &Env{db: db, path: path}, nil
}

func (e *Env) Close() error {
	return e.db.Close()
}

func (e *Env) Path() string { return e.path }

// Tx is a single transaction spanning every bucket the env declared.
type Tx struct {
	tx *bolt.Tx
}

// Bucket returns a handle for an existing bucket. It panics if name was
// not declared to Open, the same way a missing table id in a fixed schema
// indicates a programming error rather than a runtime condition.
func (t *Tx) Bucket(name string) *Bucket {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		panic(fmt.Sprintf("kvstore: bucket %q was not declared at Open", name))
	}
	return &Bucket{b: b}
}

// View runs fn in a read-only transaction. Multiple Views run concurrently
// with each other and with the single in-flight Update.
func (e *Env) View(ctx context.Context, fn func(*Tx) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Update runs fn in the single writer transaction. bbolt serializes all
// Updates against each other and against the repository's shared state,
// giving every write a total order.
func (e *Env) Update(ctx context.Context, fn func(*Tx) error) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Bucket is an ordered byte-string keyspace within one transaction.
type Bucket struct {
	b *bolt.Bucket
}

func (b *Bucket) Get(key []byte) []byte {
	return b.b.Get(key)
}

func (b *Bucket) Put(key, value []byte) error {
	return b.b.Put(key, value)
}

func (b *Bucket) Delete(key []byte) error {
	return b.b.Delete(key)
}

// Cursor returns an ordered cursor over the bucket, backing the Filter
// engine's seek/step primitives.
func (b *Bucket) Cursor() *Cursor {
	return &Cursor{c: b.b.Cursor()}
}

// Cursor walks a bucket's keys in lexicographic order.
type Cursor struct {
	c *bolt.Cursor
}

func (c *Cursor) First() (key, value []byte) { return c.c.First() }
func (c *Cursor) Last() (key, value []byte)  { return c.c.Last() }
func (c *Cursor) Next() (key, value []byte)  { return c.c.Next() }
func (c *Cursor) Prev() (key, value []byte)  { return c.c.Prev() }

// Seek positions the cursor at the first key >= seek, the primitive the
// Filter engine's seek(key) operation is built on.
func (c *Cursor) Seek(seek []byte) (key, value []byte) { return c.c.Seek(seek) }
